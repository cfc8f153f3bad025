package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/tto-ledger/ledger/internal/money"
	"github.com/tto-ledger/ledger/internal/shared"
)

type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{ID: "1", Type: task.Type()}, nil
}

type memoryStore struct {
	msgs []Message
	err  error
}

func (s *memoryStore) Insert(ctx context.Context, m Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func TestAsynqNotifierRoundTrip(t *testing.T) {
	enq := &captureEnqueuer{}
	n := NewAsynqNotifier(enq, "")
	msg := Message{Recipient: shared.PersonnelRef(4), Type: TypePaymentInstruction, Title: "t", Message: "m"}

	require.NoError(t, n.Notify(context.Background(), msg))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, TaskDeliver, enq.tasks[0].Type())

	store := &memoryStore{}
	handler := HandleDeliverTask(store, nil)
	require.NoError(t, handler(context.Background(), enq.tasks[0]))
	require.Len(t, store.msgs, 1)
	require.True(t, store.msgs[0].Recipient.Equal(shared.PersonnelRef(4)))
}

func TestNotifyRejectsInvalidMessage(t *testing.T) {
	enq := &captureEnqueuer{}
	n := NewAsynqNotifier(enq, "default")
	err := n.Notify(context.Background(), Message{Type: TypePaymentInstruction, Title: "t"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	require.Empty(t, enq.tasks)
}

func TestHandleDeliverSkipsRetryOnBadPayload(t *testing.T) {
	handler := HandleDeliverTask(&memoryStore{}, nil)
	err := handler(context.Background(), asynq.NewTask(TaskDeliver, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	failing := HandleDeliverTask(&memoryStore{err: errors.New("db down")}, nil)
	task, err := NewDeliverTask(Message{Recipient: shared.UserRef(1), Type: TypePaymentStatus, Title: "t"})
	require.NoError(t, err)
	err = failing(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestFormatter(t *testing.T) {
	f, err := NewFormatter("EUR", "en")
	require.NoError(t, err)
	require.Equal(t, "EUR 1,234.50", f.Amount(money.MustParse("1234.5")))

	msg := f.PaymentCreated(shared.UserRef(1), money.MustParse("10"), "ref-1")
	require.Equal(t, TypePaymentInstruction, msg.Type)
	require.Contains(t, msg.Message, "EUR 10.00")
	require.Contains(t, msg.Message, "ref-1")

	_, err = NewFormatter("XXXX", "en")
	require.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(nil)
	require.NoError(t, n.Notify(context.Background(), Message{Recipient: shared.UserRef(1), Type: TypePaymentStatus, Title: "t"}))
}
