package runstate

import (
	"context"
	"time"

	"github.com/faizol/loyalty-migration/internal/importer"
)

// Recorder adapts the Store to the pipeline's progress sink so every
// chunk boundary is reflected in the polled run state. It is composed
// with the streaming sink via importer.MultiSink.
type Recorder struct {
	store *Store
	state State
}

// NewRecorder registers a fresh running state and returns its recorder.
func NewRecorder(store *Store, runID string) *Recorder {
	r := &Recorder{
		store: store,
		state: State{
			ID:        runID,
			Status:    StatusRunning,
			StartedAt: time.Now().UTC(),
		},
	}
	r.save()
	return r
}

func (r *Recorder) save() { r.store.Save(context.Background(), r.state) }

func (r *Recorder) Status(message string) {
	r.state.Message = message
	r.save()
}

func (r *Recorder) Init(total int, message string) {
	r.state.Total = total
	r.state.Message = message
	r.save()
}

func (r *Recorder) Progress(current, total int, percent float64, successCount, errorCount int, message string) {
	r.state.Processed = current
	r.state.Total = total
	r.state.Percent = percent
	r.state.SuccessCount = successCount
	r.state.ErrorCount = errorCount
	r.state.Message = message
	r.save()
}

// Ping is a pure keepalive on the wire; the polled state ignores it.
func (r *Recorder) Ping(time.Time) {}

func (r *Recorder) Complete(summary importer.RunSummary) {
	r.state.Status = StatusCompleted
	r.state.Processed = summary.Total
	r.state.Percent = 100
	r.state.SuccessCount = summary.SuccessCount
	r.state.ErrorCount = summary.ErrorCount
	r.state.Message = "import completed"
	r.save()
}

func (r *Recorder) Error(message string) {
	r.state.Status = StatusFailed
	r.state.Message = message
	r.save()
}
