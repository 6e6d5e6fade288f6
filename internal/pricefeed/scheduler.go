package pricefeed

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule collects once a minute, matching the ring's slot width.
const DefaultSchedule = "@every 60s"

// Scheduler runs Collect on a cron schedule. Rounds never overlap; a round
// still running when the next one is due makes cron skip it.
type Scheduler struct {
	cron     *cron.Cron
	ingestor *Ingestor
	logger   *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

func NewScheduler(ing *Ingestor, spec string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if spec == "" {
		spec = DefaultSchedule
	}
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	s := &Scheduler{cron: c, ingestor: ing, logger: logger, ctx: context.Background()}
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, errors.Wrapf(err, "price schedule %q", spec)
	}
	return s, nil
}

// Start begins scheduling. Rounds run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.logger.Info("price scheduler started", zap.Strings("symbols", s.ingestor.Symbols()))
	s.cron.Start()
}

// Stop cancels a running round and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.ingestor.Collect(ctx)
}

// cronLogger routes cron's own log lines through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
