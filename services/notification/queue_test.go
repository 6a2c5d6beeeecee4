package notification

import (
	"context"
	"testing"
	"time"

	"guidebook/models"
	"guidebook/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task-1"}, nil
}

func TestQueueDispatcherEnqueuesDeliverTask(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewQueueDispatcher(q, zap.NewNop())

	if err := d.Notify(context.Background(), "u1", models.NotifyBookingCreated, map[string]string{"bookingId": "b1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(q.tasks) != 1 || q.tasks[0].Type() != tasks.TypeDeliverNotification {
		t.Fatalf("expected one deliver task, got %+v", q.tasks)
	}
	event, err := tasks.ParseDeliverTask(q.tasks[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.UserID != "u1" || event.Payload["bookingId"] != "b1" {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestQueueDispatcherScheduledTaskHasProcessAt(t *testing.T) {
	q := &fakeEnqueuer{}
	d := NewQueueDispatcher(q, zap.NewNop())
	at := time.Now().Add(48 * time.Hour)

	if err := d.NotifyAt(context.Background(), at, "u1", models.NotifyBookingReminder, nil); err != nil {
		t.Fatalf("notify at: %v", err)
	}
	found := false
	for _, o := range q.opts[0] {
		if o.Type() == asynq.ProcessAtOpt {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ProcessAt option on scheduled task")
	}
}

func TestQueueDispatcherRequiresRecipient(t *testing.T) {
	d := NewQueueDispatcher(&fakeEnqueuer{}, zap.NewNop())
	if err := d.Notify(context.Background(), "", models.NotifyBookingCreated, nil); err == nil {
		t.Fatalf("expected error without recipient")
	}
}
