package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/realtime/hub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConnClosed = errors.New("connection closed")

type fakeConn struct {
	inbound   chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	block     chan struct{}
	writing   atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 8),
		written: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return 0, nil, errConnClosed
		}
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.writing.Store(true)
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return errConnClosed
		}
	}
	select {
	case c.written <- append([]byte(nil), data...):
		return nil
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, msg string) {
	t.Helper()
	c.inbound <- []byte(msg)
}

func (c *fakeConn) next(t *testing.T) OutboundMessage {
	t.Helper()
	select {
	case data := <-c.written:
		var msg OutboundMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
	}
	return OutboundMessage{}
}

type countingRegistry struct {
	*hub.Hub
	unsubscribes atomic.Int32
}

func (r *countingRegistry) Unsubscribe(deliveryID string, s hub.Subscriber) {
	r.unsubscribes.Add(1)
	r.Hub.Unsubscribe(deliveryID, s)
}

type staticReader map[string]*domain.Delivery

func (r staticReader) Get(_ context.Context, id string) (*domain.Delivery, error) {
	d, ok := r[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func sampleDelivery(id string) *domain.Delivery {
	return domain.NewDelivery(id, "Parcel", domain.StatusPending, nil, "Jane", domain.Point{Lon: -73.9, Lat: 40.7}, "5th Ave",
		time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
}

func statusEvent(d *domain.Delivery, status domain.Status) domain.DeliveryEvent {
	next := d.Clone()
	entry := next.ApplyStatus(status, domain.Point{Lon: -74, Lat: 40.7}, time.Now())
	return domain.NewStatusEvent(next, entry)
}

type harness struct {
	conn     *fakeConn
	registry *countingRegistry
	session  *Session
	cancel   context.CancelFunc
	finished chan struct{}
}

func startSession(t *testing.T, deliveryID string, reader SnapshotReader, cfg Config, conn *fakeConn) *harness {
	t.Helper()
	if conn == nil {
		conn = newFakeConn()
	}
	registry := &countingRegistry{Hub: hub.New()}
	s := New(deliveryID, conn, registry, reader, cfg)
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{conn: conn, registry: registry, session: s, cancel: cancel, finished: make(chan struct{})}
	go func() {
		s.Run(ctx)
		close(h.finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.finished
	})

	require.Eventually(t, func() bool { return s.State() == StateOpen }, time.Second, 5*time.Millisecond)
	return h
}

func (h *harness) waitFinished(t *testing.T) {
	t.Helper()
	select {
	case <-h.finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
}

func TestSession_NoPushWithoutSubscribe(t *testing.T) {
	d := sampleDelivery("DLV1")
	h := startSession(t, "DLV1", staticReader{"DLV1": d}, Config{}, nil)

	assert.Equal(t, 0, h.registry.Publish("DLV1", statusEvent(d, domain.StatusInTransit)))
	assert.Never(t, func() bool { return len(h.conn.written) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestSession_SubscribeSnapshotAndOrderedPushes(t *testing.T) {
	d := sampleDelivery("DLV1")
	h := startSession(t, "DLV1", staticReader{"DLV1": d}, Config{}, nil)

	h.conn.send(t, `{"type":"subscribe_delivery"}`)

	info := h.conn.next(t)
	assert.Equal(t, TypeDeliveryInfo, info.Type)
	require.NotNil(t, info.Delivery)
	assert.Equal(t, "DLV1", info.Delivery.ID)
	assert.Equal(t, 1, h.registry.SubscriberCount("DLV1"))

	statuses := []domain.Status{domain.StatusInTransit, domain.StatusOutForDelivery, domain.StatusDelivered}
	for _, status := range statuses {
		assert.Equal(t, 1, h.registry.Publish("DLV1", statusEvent(d, status)))
	}

	for _, status := range statuses {
		msg := h.conn.next(t)
		assert.Equal(t, TypeDeliveryUpdate, msg.Type)
		assert.Equal(t, domain.UpdateTypeStatus, msg.UpdateType)
		assert.Equal(t, status, msg.Status)
		require.NotNil(t, msg.Location)
		assert.Equal(t, [2]float64{-74, 40.7}, msg.Location.Coordinates())
		require.NotNil(t, msg.Delivery)
		assert.Len(t, msg.Delivery.StatusHistory, 2)
		assert.NotNil(t, msg.Timestamp)
	}
}

func TestSession_IgnoresOtherDeliveries(t *testing.T) {
	h := startSession(t, "DLV1", staticReader{"DLV1": sampleDelivery("DLV1")}, Config{}, nil)

	h.conn.send(t, `{"type":"subscribe_delivery"}`)
	h.conn.next(t)

	assert.False(t, h.session.Deliver(statusEvent(sampleDelivery("DLV2"), domain.StatusDelivered)))
	assert.Equal(t, 0, h.registry.Publish("DLV2", statusEvent(sampleDelivery("DLV2"), domain.StatusDelivered)))
}

func TestSession_SnapshotNotFound(t *testing.T) {
	h := startSession(t, "MISSING", staticReader{}, Config{}, nil)

	h.conn.send(t, `{"type":"subscribe_delivery"}`)

	msg := h.conn.next(t)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "delivery not found", msg.Message)
	assert.Equal(t, 1, h.registry.SubscriberCount("MISSING"))
	assert.Equal(t, StateOpen, h.session.State())
}

func TestSession_InvalidMessages(t *testing.T) {
	h := startSession(t, "DLV1", staticReader{}, Config{}, nil)

	h.conn.send(t, `not json`)
	msg := h.conn.next(t)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "invalid message format", msg.Message)

	h.conn.send(t, `{"type":"dance"}`)
	msg = h.conn.next(t)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "unknown message type", msg.Message)

	assert.Equal(t, StateOpen, h.session.State())
	assert.Equal(t, 0, h.registry.SubscriberCount("DLV1"))
}

func TestSession_DisconnectUnsubscribesOnce(t *testing.T) {
	h := startSession(t, "DLV1", staticReader{"DLV1": sampleDelivery("DLV1")}, Config{}, nil)

	h.conn.send(t, `{"type":"subscribe_delivery"}`)
	h.conn.next(t)
	require.Equal(t, 1, h.registry.SubscriberCount("DLV1"))

	close(h.conn.inbound)
	h.waitFinished(t)

	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, 0, h.registry.SubscriberCount("DLV1"))
	assert.Equal(t, int32(1), h.registry.unsubscribes.Load())

	h.session.Close()
	assert.Equal(t, int32(1), h.registry.unsubscribes.Load())
	assert.False(t, h.session.Deliver(statusEvent(sampleDelivery("DLV1"), domain.StatusDelivered)))
}

func TestSession_CancelClosesSession(t *testing.T) {
	h := startSession(t, "DLV1", staticReader{"DLV1": sampleDelivery("DLV1")}, Config{}, nil)

	h.conn.send(t, `{"type":"subscribe_delivery"}`)
	h.conn.next(t)

	h.cancel()
	h.waitFinished(t)

	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, 0, h.registry.SubscriberCount("DLV1"))
	assert.Equal(t, int32(1), h.registry.unsubscribes.Load())
}

func TestSession_CloseWithoutSubscribe(t *testing.T) {
	h := startSession(t, "DLV1", staticReader{}, Config{}, nil)

	h.session.Close()
	h.waitFinished(t)

	assert.Equal(t, int32(0), h.registry.unsubscribes.Load())
}

func TestSession_SlowClientDropsOverflow(t *testing.T) {
	d := sampleDelivery("DLV1")
	conn := newFakeConn()
	conn.block = make(chan struct{})
	h := startSession(t, "DLV1", staticReader{"DLV1": d}, Config{Buffer: 1}, conn)

	h.conn.send(t, `{"type":"subscribe_delivery"}`)

	// The writer is stuck on the snapshot, leaving room for one queued update.
	require.Eventually(t, conn.writing.Load, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.registry.SubscriberCount("DLV1") == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, h.session.Deliver(statusEvent(d, domain.StatusInTransit)))
	assert.False(t, h.session.Deliver(statusEvent(d, domain.StatusDelivered)))
	assert.Equal(t, 0, h.registry.Publish("DLV1", statusEvent(d, domain.StatusOutForDelivery)))

	close(conn.block)
	assert.Equal(t, TypeDeliveryInfo, conn.next(t).Type)
	msg := conn.next(t)
	assert.Equal(t, TypeDeliveryUpdate, msg.Type)
	assert.Equal(t, domain.StatusInTransit, msg.Status)
	assert.Equal(t, StateOpen, h.session.State())
}

func TestSession_RunOnlyOnce(t *testing.T) {
	h := startSession(t, "DLV1", staticReader{}, Config{}, nil)
	h.session.Close()
	h.waitFinished(t)

	done := make(chan struct{})
	go func() {
		h.session.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Run should return immediately")
	}
}
