package pipeline

import "time"

// Stats is a snapshot of what the pipeline has done since it started.
type Stats struct {
	Cycles         int       `json:"cycles"`
	LastCycleID    string    `json:"last_cycle_id,omitempty"`
	LastStart      time.Time `json:"last_start"`
	LastDurationMS int64     `json:"last_duration_ms"`
	LastError      string    `json:"last_error,omitempty"`
	Checkpoint     time.Time `json:"checkpoint"`
	ChangedTotal   int       `json:"changed_total"`
	IndexedTotal   int       `json:"indexed_total"`
	FailedTotal    int       `json:"failed_total"`
	Pending        int       `json:"pending"`
}

func (p *Pipeline) record(res *CycleResult, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Cycles++
	p.stats.LastCycleID = res.ID
	p.stats.LastStart = res.Started
	p.stats.LastDurationMS = res.Duration.Milliseconds()
	p.stats.ChangedTotal += res.Changed
	p.stats.IndexedTotal += res.Indexed
	p.stats.FailedTotal += res.Failed
	p.stats.Pending = len(p.pending)
	if err != nil {
		p.stats.LastError = err.Error()
		return
	}
	p.stats.LastError = ""
	p.stats.Checkpoint = res.Started
}

// Stats is safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
