package broker

import "fmt"

// Error codes reported in extensions.code.
const (
	CodeBadUserInput       = "BAD_USER_INPUT"
	CodePriceUnavailable   = "PRICE_UNAVAILABLE"
	CodeWalletUnconfigured = "WALLET_UNCONFIGURED"
)

// Error is a domain failure with a client-facing code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string     { return e.Message }
func (e *Error) ErrorCode() string { return e.Code }

func badInput(format string, args ...any) error {
	return &Error{Code: CodeBadUserInput, Message: fmt.Sprintf(format, args...)}
}
