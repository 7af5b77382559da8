package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-venue/internal/events"
	"github.com/noah-isme/backend-venue/internal/lock"
	"github.com/noah-isme/backend-venue/internal/store"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	ids  map[string]Payload
	opts [][]asynq.Option
	fail error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var id, queue string
	for _, o := range opts {
		switch o.Type() {
		case asynq.TaskIDOpt:
			id = o.Value().(string)
		case asynq.QueueOpt:
			queue = o.Value().(string)
		}
	}
	if _, ok := f.ids[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	var p Payload
	_ = json.Unmarshal(task.Payload(), &p)
	f.ids[id] = p
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: id, Queue: queue, Type: task.Type()}, nil
}

func TestEnqueuerScheduleDedupesByEventID(t *testing.T) {
	client := &fakeEnqueuer{ids: map[string]Payload{}}
	e := Enqueuer{Client: client, Queue: "payments", MaxRetry: 8, Logger: zerolog.Nop()}

	require.NoError(t, e.Schedule(context.Background(), "evt_1"))
	require.NoError(t, e.Schedule(context.Background(), "evt_1"))
	require.Len(t, client.ids, 1)
	require.Equal(t, Payload{EventID: "evt_1"}, client.ids["evt_1"])
}

func TestEnqueuerReplayForces(t *testing.T) {
	client := &fakeEnqueuer{ids: map[string]Payload{}}
	tick := time.Unix(1700000000, 0)
	e := Enqueuer{Client: client, Now: func() time.Time { tick = tick.Add(time.Second); return tick }}

	require.NoError(t, e.Schedule(context.Background(), "evt_1"))
	require.NoError(t, e.Replay(context.Background(), "evt_1"))
	require.NoError(t, e.Replay(context.Background(), "evt_1"))
	require.Len(t, client.ids, 3)

	forced := 0
	for id, p := range client.ids {
		if p.Force {
			forced++
			require.Contains(t, id, "replay:evt_1:")
		}
	}
	require.Equal(t, 2, forced)
}

func TestEnqueuerSurfacesErrors(t *testing.T) {
	e := Enqueuer{Client: &fakeEnqueuer{fail: errors.New("redis down")}}
	require.Error(t, e.Schedule(context.Background(), "evt_1"))
	require.Error(t, Enqueuer{}.Schedule(context.Background(), "evt_1"))
	require.Error(t, e.Schedule(context.Background(), " "))
}

type memStore struct {
	mu       sync.Mutex
	events   map[string]store.WebhookEvent
	bookings map[string]store.BookingIntent
	marks    int
}

const bookingTotal = 38102

func newMemStore() *memStore {
	return &memStore{events: map[string]store.WebhookEvent{}, bookings: map[string]store.BookingIntent{}}
}

func (m *memStore) book(id, orderID, status string, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[id] = store.BookingIntent{ID: id, ProviderOrderID: orderID, Status: status, TotalAmount: total}
}

func (m *memStore) status(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

func (m *memStore) GetWebhookEvent(_ context.Context, id string) (store.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return store.WebhookEvent{}, store.ErrNotFound
	}
	return ev, nil
}

func (m *memStore) BookingsByOrder(_ context.Context, orderID string) ([]store.BookingIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.BookingIntent
	for _, b := range m.bookings {
		if b.ProviderOrderID == orderID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) UpdateBookingStatusByOrder(_ context.Context, c store.StatusChange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, b := range m.bookings {
		if b.ProviderOrderID != c.ProviderOrderID {
			continue
		}
		if store.AmountChecked(c.Status) && b.TotalAmount != c.Amount {
			continue
		}
		if slices.Contains(store.PriorStatuses(c.Status), b.Status) {
			b.Status = c.Status
			m.bookings[id] = b
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkWebhookProcessed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks++
	ev := m.events[id]
	if ev.Processed {
		return false, nil
	}
	ev.Processed = true
	m.events[id] = ev
	return true, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (c *capturePublisher) Publish(_ context.Context, evs ...events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range evs {
		c.topics = append(c.topics, ev.Topic)
	}
	return nil
}

func seed(m *memStore, eventID, eventType, orderID string) {
	seedAmount(m, eventID, eventType, orderID, bookingTotal)
}

func seedAmount(m *memStore, eventID, eventType, orderID string, amount int64) {
	body := fmt.Sprintf(`{"id":%q,"event":%q,"payload":{"payment":{"entity":{"id":"pay_1","order_id":%q,"amount":%d}}}}`,
		eventID, eventType, orderID, amount)
	m.events[eventID] = store.WebhookEvent{EventID: eventID, EventType: eventType, Payload: json.RawMessage(body)}
}

func newHandler(t *testing.T, m *memStore, pub *capturePublisher) *Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &Handler{
		Store:  m,
		Bus:    &events.Bus{Publisher: pub},
		Locker: lock.Locker{R: client, Prefix: "test:lock:", RetryBackoff: time.Millisecond},
		Logger: zerolog.Nop(),
	}
}

func TestReconcileCapturedMarksBookingPaid(t *testing.T) {
	m := newMemStore()
	m.book("b1", "order_abc", store.StatusPending, bookingTotal)
	seed(m, "evt_1", "payment.captured", "order_abc")
	pub := &capturePublisher{}
	h := newHandler(t, m, pub)

	task, err := NewTask(Payload{EventID: "evt_1"})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	require.Equal(t, store.StatusPaid, m.status("b1"))
	require.True(t, m.events["evt_1"].Processed)
	require.Equal(t, []string{events.TopicPaymentReconciled, events.TopicBookingPaid}, pub.topics)
}

func TestReconcileProcessedExactlyOnce(t *testing.T) {
	m := newMemStore()
	m.book("b1", "order_abc", store.StatusPending, bookingTotal)
	seed(m, "evt_1", "payment.captured", "order_abc")
	h := newHandler(t, m, &capturePublisher{})

	first, err := h.Reconcile(context.Background(), Payload{EventID: "evt_1"})
	require.NoError(t, err)
	require.False(t, first.Skipped)

	second, err := h.Reconcile(context.Background(), Payload{EventID: "evt_1"})
	require.NoError(t, err)
	require.True(t, second.Skipped)
	require.Equal(t, 1, m.marks)
}

func TestReconcileNeverDowngradesPaid(t *testing.T) {
	m := newMemStore()
	m.book("b1", "order_abc", store.StatusPaid, bookingTotal)
	seed(m, "evt_auth", "payment.authorized", "order_abc")
	h := newHandler(t, m, &capturePublisher{})

	out, err := h.Reconcile(context.Background(), Payload{EventID: "evt_auth"})
	require.NoError(t, err)
	require.Equal(t, int64(0), out.BookingsUpdated)
	require.Equal(t, store.StatusPaid, m.status("b1"))
}

func TestReconcileUnknownEventSkipsRetry(t *testing.T) {
	h := newHandler(t, newMemStore(), &capturePublisher{})
	_, err := h.Reconcile(context.Background(), Payload{EventID: "missing"})
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeReconcile, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileForceReplaysProcessedEvent(t *testing.T) {
	m := newMemStore()
	m.book("b1", "order_abc", store.StatusPaid, bookingTotal)
	seed(m, "evt_1", "order.paid", "order_abc")
	ev := m.events["evt_1"]
	ev.Processed = true
	m.events["evt_1"] = ev
	pub := &capturePublisher{}
	h := newHandler(t, m, pub)

	out, err := h.Reconcile(context.Background(), Payload{EventID: "evt_1", Force: true})
	require.NoError(t, err)
	require.False(t, out.Skipped)
	require.Equal(t, store.StatusPaid, out.Status)
	require.Equal(t, []string{events.TopicPaymentReconciled}, pub.topics)
}

func TestReconcileWaitsForBookingIntent(t *testing.T) {
	m := newMemStore()
	seed(m, "evt_1", "payment.captured", "order_abc")
	pub := &capturePublisher{}
	h := newHandler(t, m, pub)

	out, err := h.Reconcile(context.Background(), Payload{EventID: "evt_1"})
	require.ErrorIs(t, err, ErrBookingNotRecorded)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.False(t, out.Skipped)
	require.False(t, m.events["evt_1"].Processed)
	require.Zero(t, m.marks)
	require.Empty(t, pub.topics)

	// the browser posts the intent after the webhook was first handled
	m.book("b1", "order_abc", store.StatusPending, bookingTotal)

	out, err = h.Reconcile(context.Background(), Payload{EventID: "evt_1"})
	require.NoError(t, err)
	require.False(t, out.Skipped)
	require.Equal(t, int64(1), out.BookingsUpdated)
	require.Equal(t, store.StatusPaid, m.status("b1"))
	require.True(t, m.events["evt_1"].Processed)
}

func TestReconcileFailedEventWithoutBookingCompletes(t *testing.T) {
	m := newMemStore()
	seed(m, "evt_fail", "payment.failed", "order_abc")
	h := newHandler(t, m, &capturePublisher{})

	out, err := h.Reconcile(context.Background(), Payload{EventID: "evt_fail"})
	require.NoError(t, err)
	require.Zero(t, out.BookingsUpdated)
	require.True(t, m.events["evt_fail"].Processed)
}

func TestReconcileAmountMismatchLeavesBookingPending(t *testing.T) {
	m := newMemStore()
	m.book("b1", "order_abc", store.StatusPending, bookingTotal)
	seedAmount(m, "evt_1", "payment.captured", "order_abc", 100)
	pub := &capturePublisher{}
	h := newHandler(t, m, pub)

	out, err := h.Reconcile(context.Background(), Payload{EventID: "evt_1"})
	require.NoError(t, err)
	require.Equal(t, 1, out.AmountMismatches)
	require.Zero(t, out.BookingsUpdated)
	require.Equal(t, store.StatusPending, m.status("b1"))
	require.True(t, m.events["evt_1"].Processed)
	require.Equal(t, []string{events.TopicPaymentReconciled}, pub.topics)
}

func TestStatusForEvent(t *testing.T) {
	cases := map[string]string{
		"payment.captured":   store.StatusPaid,
		"order.paid":         store.StatusPaid,
		"payment.failed":     store.StatusFailed,
		"payment.authorized": store.StatusAuthorized,
		"refund.processed":   store.StatusRefunded,
		"refund.created":     store.StatusRefunded,
		"payment.dispute":    "",
	}
	for eventType, want := range cases {
		require.Equal(t, want, StatusForEvent(eventType), eventType)
	}
}

func TestExtractRefsFallsBackToOrderEntity(t *testing.T) {
	got := extractRefs([]byte(`{"event":"order.paid","payload":{"order":{"entity":{"id":"order_9","amount_paid":38102}}}}`))
	require.Equal(t, refs{OrderID: "order_9", Amount: 38102}, got)

	got = extractRefs([]byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_2","order_id":"order_9","amount":500}},"order":{"entity":{"id":"order_9","amount_paid":900}}}}`))
	require.Equal(t, refs{OrderID: "order_9", PaymentID: "pay_2", Amount: 500}, got)
	require.Equal(t, refs{}, extractRefs([]byte(`nope`)))
}
