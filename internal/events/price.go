package events

import "time"

// PriceRecorded is emitted for every symbol the price feed tried to record.
type PriceRecorded struct {
	Symbol   string
	Duration time.Duration
	Err      error
}

// PriceCollected is emitted after a collection round over all symbols.
type PriceCollected struct {
	OK     int
	Failed int
	Purged int64
}
