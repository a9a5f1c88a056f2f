package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/policy-monitor/internal/config"
	"github.com/sells-group/policy-monitor/internal/metrics"
	"github.com/sells-group/policy-monitor/internal/model"
)

func TestChecker_Check(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	cfg := testMonitoringConfig()
	cfg.WebhookURL = ts.URL
	st := &mockCounter{counts: map[model.Status]int{
		model.StatusNew:      3,
		model.StatusAnalyzed: 5,
		model.StatusFailed:   5,
	}}
	m := metrics.New()
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), m, cfg)

	rep, err := checker.Check(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.5, rep.Snapshot.FailRate, 1e-9)
	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, AlertFailureRate, rep.Alerts[0].Type)
	assert.Equal(t, 1, rep.AlertsSent)
	assert.Equal(t, int32(1), received.Load())

	expected := `
# HELP policy_monitor_documents Stored documents by processing status.
# TYPE policy_monitor_documents gauge
policy_monitor_documents{status="analyzed"} 5
policy_monitor_documents{status="failed"} 5
policy_monitor_documents{status="new"} 3
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "policy_monitor_documents"))
}

func TestChecker_CheckCollectError(t *testing.T) {
	st := &mockCounter{countErr: errors.New("db down")}
	checker := NewChecker(NewCollector(st), NewAlerter(config.MonitoringConfig{}), nil, config.MonitoringConfig{})

	_, err := checker.Check(context.Background())
	assert.Error(t, err)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	st := &mockCounter{counts: map[model.Status]int{}}
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1, FailureRateThreshold: 0.10}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx, nil)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_DefaultInterval(t *testing.T) {
	st := &mockCounter{counts: map[model.Status]int{}}
	checker := NewChecker(NewCollector(st), NewAlerter(config.MonitoringConfig{}), nil, config.MonitoringConfig{})
	assert.NotNil(t, checker)

	// Start and immediately cancel to verify it doesn't panic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx, nil)
}

func TestChecker_RunChecksImmediately(t *testing.T) {
	st := &mockCounter{counts: map[model.Status]int{model.StatusNew: 2}}
	cfg := config.MonitoringConfig{CheckIntervalSecs: 3600}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *Report, 1)
	done := make(chan struct{})
	go func() {
		checker.Run(ctx, func(rep *Report) { reports <- rep })
		close(done)
	}()

	select {
	case rep := <-reports:
		assert.Equal(t, 2, rep.Snapshot.New)
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not report before the first tick")
	}

	cancel()
	<-done
}
