package engine

import "sync"

// progressHeadroom is the constant by which the estimate stays ahead of the
// observed batch count while a job runs.
const progressHeadroom = 10

// Progress estimates completion for a job. The source offers no reliable
// row count, so the denominator is continuously revised:
// estimated = max(estimated, processed + headroom). The percentage is
// clamped to 99 until Done() forces 100. Consumers must treat it as an
// estimate, never an exact fraction; Snapshot.Estimated says which it is.
type Progress struct {
	mu        sync.Mutex
	processed int
	estimated int
	done      bool
}

// Snapshot is one observable progress reading.
type Snapshot struct {
	Percent          int
	BatchesProcessed int
	// Estimated is false only after the job is declared complete.
	Estimated bool
}

// Observe records the number of batches processed so far.
func (p *Progress) Observe(batches int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if batches > p.processed {
		p.processed = batches
	}
	if p.processed+progressHeadroom > p.estimated {
		p.estimated = p.processed + progressHeadroom
	}
}

// Done declares the job complete and forces the reading to 100%.
func (p *Progress) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
}

// Snapshot returns the current reading.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done {
		return Snapshot{Percent: 100, BatchesProcessed: p.processed, Estimated: false}
	}

	percent := 0
	if p.estimated > 0 {
		percent = p.processed * 100 / p.estimated
	}
	if percent > 99 {
		percent = 99
	}
	return Snapshot{Percent: percent, BatchesProcessed: p.processed, Estimated: true}
}
