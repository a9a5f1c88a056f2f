package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/policy-monitor/internal/model"
)

// StatusCounter is the slice of store.Store the collector reads.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[model.Status]int, error)
	CountRelevant(ctx context.Context) (int, error)
}

// Snapshot is a point-in-time view of the document table.
type Snapshot struct {
	New      int `json:"new"`
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
	Relevant int `json:"relevant"`

	// FailRate is failed / (analyzed + failed); 0 when nothing finished.
	FailRate float64 `json:"fail_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// Finished returns the number of documents in a terminal status.
func (s *Snapshot) Finished() int {
	return s.Analyzed + s.Failed
}

// Counts returns the per-status counts keyed by status name.
func (s *Snapshot) Counts() map[string]int {
	return map[string]int{
		string(model.StatusNew):      s.New,
		string(model.StatusAnalyzed): s.Analyzed,
		string(model.StatusFailed):   s.Failed,
	}
}

// Collector gathers snapshots from the store.
type Collector struct {
	store StatusCounter
	now   func() time.Time
}

// NewCollector creates a Collector.
func NewCollector(st StatusCounter) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect reads the current counts.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	counts, err := c.store.CountByStatus(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count by status")
	}
	relevant, err := c.store.CountRelevant(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count relevant")
	}

	snap := &Snapshot{
		New:         counts[model.StatusNew],
		Analyzed:    counts[model.StatusAnalyzed],
		Failed:      counts[model.StatusFailed],
		Relevant:    relevant,
		CollectedAt: c.now().UTC(),
	}
	snap.Total = snap.New + snap.Analyzed + snap.Failed
	if finished := snap.Finished(); finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}
