// Package monitoring summarizes document statuses and raises alerts when
// the pipeline looks unhealthy.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/policy-monitor/internal/config"
	"github.com/sells-group/policy-monitor/internal/metrics"
)

// Report is the outcome of one check.
type Report struct {
	Snapshot   *Snapshot `json:"snapshot"`
	Alerts     []Alert   `json:"alerts"`
	AlertsSent int       `json:"alerts_sent"`
}

// Checker runs alert checks once or periodically.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *metrics.Metrics
	cfg       config.MonitoringConfig
}

// NewChecker creates an alert checker. m may be nil.
func NewChecker(collector *Collector, alerter *Alerter, m *metrics.Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   m,
		cfg:       cfg,
	}
}

// Check collects a snapshot, evaluates it and delivers any alerts.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}
	c.metrics.StatusCounts(snap.Counts())

	rep := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	if len(rep.Alerts) > 0 {
		rep.AlertsSent = c.alerter.SendAlerts(ctx, rep.Alerts)
	}
	return rep, nil
}

// Run checks immediately and then on every interval until ctx is
// cancelled. onReport, if non-nil, receives each successful report.
func (c *Checker) Run(ctx context.Context, onReport func(*Report)) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	c.check(ctx, log, onReport)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log, onReport)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger, onReport func(*Report)) {
	rep, err := c.Check(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect snapshot", zap.Error(err))
		return
	}
	if onReport != nil {
		onReport(rep)
	}
	if len(rep.Alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.Int("new", rep.Snapshot.New))
		return
	}
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(rep.Alerts)),
		zap.Int("alerts_sent", rep.AlertsSent),
	)
}
