package notification

import (
	"context"
	"sync"
	"time"

	"guidebook/models"
)

// Recorded is one call captured by Recorder.
type Recorded struct {
	At      time.Time // zero for immediate notifications
	UserID  string
	Type    models.NotificationType
	Payload map[string]string
}

// Recorder is an in-memory Dispatcher that keeps every call. Err, when set,
// is returned from every call after recording it.
type Recorder struct {
	mu    sync.Mutex
	calls []Recorded
	Err   error
}

func (r *Recorder) Notify(ctx context.Context, userID string, typ models.NotificationType, payload map[string]string) error {
	return r.record(Recorded{UserID: userID, Type: typ, Payload: payload})
}

func (r *Recorder) NotifyAt(ctx context.Context, at time.Time, userID string, typ models.NotificationType, payload map[string]string) error {
	return r.record(Recorded{At: at, UserID: userID, Type: typ, Payload: payload})
}

func (r *Recorder) record(c Recorded) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	return r.Err
}

// Calls returns a copy of everything recorded so far.
func (r *Recorder) Calls() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.calls...)
}

// Count returns how many calls of typ were recorded.
func (r *Recorder) Count(typ models.NotificationType) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Type == typ {
			n++
		}
	}
	return n
}
