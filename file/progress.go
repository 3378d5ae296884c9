package file

import (
	"github.com/sirupsen/logrus"
)

// ProgressEvent is a snapshot of a running transfer.
type ProgressEvent struct {
	Transferred uint64
	Total       uint64
}

// Percent returns the completed share in the range [0, 100].
func (e ProgressEvent) Percent() float64 {
	if e.Total == 0 {
		return 100
	}
	return float64(e.Transferred) / float64(e.Total) * 100
}

// ProgressFunc receives progress events on the transferring goroutine. It
// gates the next chunk, so it must return promptly.
type ProgressFunc func(ProgressEvent)

// Reporter adapts engine progress to an optional caller callback.
type Reporter struct {
	fn     ProgressFunc
	logger logrus.FieldLogger
	last   ProgressEvent
	seen   bool
}

// NewReporter creates a reporter for fn. A nil fn makes Report a no-op.
func NewReporter(fn ProgressFunc, logger logrus.FieldLogger) *Reporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reporter{fn: fn, logger: logger}
}

// Report records ev and hands it to the callback. A panicking callback is
// logged and swallowed.
func (r *Reporter) Report(ev ProgressEvent) {
	r.last = ev
	r.seen = true
	r.deliver(ev)
}

// Last returns the most recent event and whether one was reported.
func (r *Reporter) Last() (ProgressEvent, bool) {
	return r.last, r.seen
}

// Redeliver sends the most recent event to the callback again.
func (r *Reporter) Redeliver() {
	if r.seen {
		r.deliver(r.last)
	}
}

func (r *Reporter) deliver(ev ProgressEvent) {
	if r.fn == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logrus.Fields{
				"function":    "Reporter.Report",
				"transferred": ev.Transferred,
				"total":       ev.Total,
				"panic":       p,
			}).Error("Progress callback panicked")
		}
	}()
	r.fn(ev)
}
