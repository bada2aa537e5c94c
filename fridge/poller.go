package fridge

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultQueryInterval is the period between status queries.
const DefaultQueryInterval = 30 * time.Second

// Poller triggers a status query on a fixed schedule. The trigger only
// hands a request to the event loop; it never touches the session.
type Poller struct {
	cron     *cron.Cron
	interval time.Duration
	trigger  func() error
	logger   *zap.Logger
}

// NewPoller runs trigger every interval once started. A tick that is still
// running when the next one fires is skipped.
func NewPoller(interval time.Duration, trigger func() error, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultQueryInterval
	}
	cl := cronLogger{logger.Sugar()}
	return &Poller{
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		interval: interval,
		trigger:  trigger,
		logger:   logger,
	}
}

// Start schedules the trigger and starts the scheduler in the background.
func (p *Poller) Start() error {
	spec := "@every " + p.interval.String()
	if _, err := p.cron.AddFunc(spec, p.tick); err != nil {
		return fmt.Errorf("failed to schedule fridge query %q: %w", spec, err)
	}
	p.logger.Info("starting fridge poller", zap.Duration("interval", p.interval))
	p.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running trigger to return.
func (p *Poller) Stop() {
	p.logger.Info("stopping fridge poller")
	<-p.cron.Stop().Done()
}

func (p *Poller) tick() {
	if err := p.trigger(); err != nil {
		p.logger.Warn("failed to request fridge query", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
