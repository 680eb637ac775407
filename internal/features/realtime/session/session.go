package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"delivery-tracker/internal/core/logger"
	"delivery-tracker/internal/features/deliveries/domain"
	"delivery-tracker/internal/features/realtime/hub"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle stage of a session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// Conn is the duplex transport a session runs on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Registry is where a session registers interest in its delivery.
type Registry interface {
	Subscribe(deliveryID string, s hub.Subscriber)
	Unsubscribe(deliveryID string, s hub.Subscriber)
}

// SnapshotReader loads the current state of a delivery.
type SnapshotReader interface {
	Get(ctx context.Context, id string) (*domain.Delivery, error)
}

// Config tunes per-session buffering.
type Config struct {
	Buffer       int
	WriteTimeout time.Duration
}

// Session is one live viewer connection bound to a single delivery id.
// Outbound frames go through a bounded queue drained by one writer goroutine,
// so pushes keep publish order and a stalled client never blocks the publisher.
type Session struct {
	id           string
	deliveryID   string
	conn         Conn
	registry     Registry
	reader       SnapshotReader
	writeTimeout time.Duration
	logger       *zap.Logger

	state      atomic.Int32
	subscribed atomic.Bool
	outbox     chan OutboundMessage
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// New creates a session in the Connecting state.
func New(deliveryID string, conn Conn, registry Registry, reader SnapshotReader, cfg Config) *Session {
	if cfg.Buffer < 1 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	id := uuid.NewString()
	return &Session{
		id:           id,
		deliveryID:   deliveryID,
		conn:         conn,
		registry:     registry,
		reader:       reader,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.Named("session").With(zap.String("session_id", id), zap.String("delivery_id", deliveryID)),
		outbox:       make(chan OutboundMessage, cfg.Buffer),
		done:         make(chan struct{}),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run serves the connection until the client disconnects, a write fails or ctx
// is cancelled. It always leaves the session Closed and unsubscribed.
func (s *Session) Run(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return
	}
	s.logger.Debug("Realtime session opened")

	s.wg.Add(1)
	go s.writeLoop()

	stop := context.AfterFunc(ctx, s.Close)
	defer stop()
	defer func() {
		s.Close()
		s.wg.Wait()
	}()

	s.readLoop(ctx)
}

// Deliver queues a hub event without blocking. The event is dropped when the
// session is not open or its queue is full.
func (s *Session) Deliver(event domain.DeliveryEvent) bool {
	if s.State() != StateOpen || event.DeliveryID != s.deliveryID {
		return false
	}

	select {
	case <-s.done:
		return false
	case s.outbox <- updateMessage(event):
		return true
	default:
		s.logger.Warn("Realtime session queue full, dropping update",
			zap.String("update_type", string(event.UpdateType)),
		)
		return false
	}
}

// Close moves the session to Closed, leaves the hub and closes the transport.
// Safe to call any number of times from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		if s.subscribed.Load() {
			s.registry.Unsubscribe(s.deliveryID, s)
		}
		close(s.done)
		if err := s.conn.Close(); err != nil {
			s.logger.Debug("Realtime connection close failed", zap.Error(err))
		}
		s.logger.Debug("Realtime session closed")
	})
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() == StateOpen {
				s.logger.Debug("Realtime connection ended", zap.Error(err))
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(errorMessage("invalid message format"))
			continue
		}

		switch msg.Type {
		case TypeSubscribeDelivery:
			s.subscribe(ctx)
		default:
			s.send(errorMessage("unknown message type"))
		}
	}
}

// subscribe registers with the hub before reading the snapshot so no commit
// between the two is missed.
func (s *Session) subscribe(ctx context.Context) {
	if s.subscribed.CompareAndSwap(false, true) {
		s.registry.Subscribe(s.deliveryID, s)
		// Close may have run between the swap and Subscribe.
		if s.State() == StateClosed {
			s.registry.Unsubscribe(s.deliveryID, s)
			return
		}
		s.logger.Debug("Realtime session subscribed")
	}

	d, err := s.reader.Get(ctx, s.deliveryID)
	if errors.Is(err, domain.ErrNotFound) {
		s.send(errorMessage("delivery not found"))
		return
	}
	if err != nil {
		s.logger.Error("Failed to load delivery snapshot", zap.Error(err))
		s.send(errorMessage("failed to load delivery"))
		return
	}
	s.send(infoMessage(d))
}

// send queues a reply, waiting for room unless the session closes first.
func (s *Session) send(msg OutboundMessage) {
	select {
	case s.outbox <- msg:
	case <-s.done:
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.outbox:
			if err := s.write(msg); err != nil {
				s.logger.Debug("Realtime write failed", zap.Error(err))
				s.Close()
				return
			}
		}
	}
}

func (s *Session) write(msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

var _ hub.Subscriber = (*Session)(nil)
