package batch

import (
	"sync"
	"time"

	"github.com/nowusman/DocGuard/internal/domain"
)

// Summary counts a finished batch's outcomes.
type Summary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Canceled  int           `json:"canceled"`
	FromCache int           `json:"from_cache"`
	Duration  time.Duration `json:"duration"`
}

// Batch is one submitted set of documents. Results arrive on Results() in
// completion order and the channel is always closed once every document
// has a terminal status.
type Batch struct {
	ID string

	results  chan domain.ProcessingResult
	cancel   chan struct{}
	once     sync.Once
	done     chan struct{}
	started  time.Time
	mu       sync.Mutex
	statuses map[string]domain.Status
	summary  Summary
}

func newBatch(id string, docs []domain.Document) *Batch {
	b := &Batch{
		ID:       id,
		results:  make(chan domain.ProcessingResult, len(docs)),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
		started:  time.Now(),
		statuses: make(map[string]domain.Status, len(docs)),
		summary:  Summary{Total: len(docs)},
	}
	for _, d := range docs {
		b.statuses[d.ID] = domain.StatusQueued
	}
	return b
}

// Results streams one result per document.
func (b *Batch) Results() <-chan domain.ProcessingResult { return b.results }

// Done is closed after the last result has been sent.
func (b *Batch) Done() <-chan struct{} { return b.done }

// RequestCancel stops dispatch. Documents still queued finish as Canceled;
// documents already running complete normally. Safe to call repeatedly
// and from any goroutine.
func (b *Batch) RequestCancel() {
	b.once.Do(func() { close(b.cancel) })
}

// CancelRequested reports whether RequestCancel has been called.
func (b *Batch) CancelRequested() bool {
	select {
	case <-b.cancel:
		return true
	default:
		return false
	}
}

// Status returns the current status of a document in the batch.
func (b *Batch) Status(documentID string) (domain.Status, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.statuses[documentID]
	return s, ok
}

// Summary returns the outcome counts so far; final once Done is closed.
func (b *Batch) Summary() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summary
}

// Collect drains Results and returns every result in arrival order.
func (b *Batch) Collect() []domain.ProcessingResult {
	var out []domain.ProcessingResult
	for r := range b.results {
		out = append(out, r)
	}
	return out
}

// dispatch moves a queued document to Running unless cancellation was
// requested, in which case it reports false and the document stays queued.
func (b *Batch) dispatch(doc domain.Document) bool {
	if b.CancelRequested() {
		return false
	}
	b.mu.Lock()
	b.statuses[doc.ID] = domain.StatusRunning
	b.mu.Unlock()
	return true
}

func (b *Batch) record(r domain.ProcessingResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[r.DocumentID] = r.Status
	switch r.Status {
	case domain.StatusCompleted:
		b.summary.Completed++
	case domain.StatusFailed:
		b.summary.Failed++
	case domain.StatusCanceled:
		b.summary.Canceled++
	}
	if r.FromCache {
		b.summary.FromCache++
	}
}

func (b *Batch) finish() {
	b.mu.Lock()
	b.summary.Duration = time.Since(b.started)
	b.mu.Unlock()
	close(b.results)
	close(b.done)
}
