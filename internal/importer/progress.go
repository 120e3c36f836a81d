package importer

import (
	"context"
	"sync"
	"time"
)

// ProgressSink receives the ordered event stream of one import run.
// Implementations must tolerate Ping at any moment between Init and
// the terminal Complete/Error event; pings carry no semantic content
// and exist only to keep long-lived connections alive.
type ProgressSink interface {
	Status(message string)
	Init(total int, message string)
	Progress(current, total int, percent float64, successCount, errorCount int, message string)
	Ping(ts time.Time)
	Complete(summary RunSummary)
	Error(message string)
}

// NopSink discards all events. Useful for the synchronous endpoint
// and for tests that only care about the summary.
type NopSink struct{}

func (NopSink) Status(string)                                  {}
func (NopSink) Init(int, string)                               {}
func (NopSink) Progress(int, int, float64, int, int, string)   {}
func (NopSink) Ping(time.Time)                                 {}
func (NopSink) Complete(RunSummary)                            {}
func (NopSink) Error(string)                                   {}

// MultiSink fans every event out to each sink in order.
type MultiSink []ProgressSink

func (m MultiSink) Status(msg string) {
	for _, s := range m {
		s.Status(msg)
	}
}
func (m MultiSink) Init(total int, msg string) {
	for _, s := range m {
		s.Init(total, msg)
	}
}
func (m MultiSink) Progress(current, total int, percent float64, successCount, errorCount int, msg string) {
	for _, s := range m {
		s.Progress(current, total, percent, successCount, errorCount, msg)
	}
}
func (m MultiSink) Ping(ts time.Time) {
	for _, s := range m {
		s.Ping(ts)
	}
}
func (m MultiSink) Complete(sum RunSummary) {
	for _, s := range m {
		s.Complete(sum)
	}
}
func (m MultiSink) Error(msg string) {
	for _, s := range m {
		s.Error(msg)
	}
}

// StartHeartbeat emits a Ping on the sink at the given interval until
// the returned stop function is called or the context is cancelled.
// The heartbeat is independent of chunk progress; it only signals
// liveness on a possibly long-lived connection.
func StartHeartbeat(ctx context.Context, sink ProgressSink, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				sink.Ping(t)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
