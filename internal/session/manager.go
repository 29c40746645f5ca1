package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ballarena/server/internal/input"
	"ballarena/server/internal/logging"
	"ballarena/server/internal/networking"
	"ballarena/server/internal/protocol"
	"ballarena/server/internal/world"
)

// Bye reasons sent before a server-initiated close.
const (
	ByeServerFull   = "server full"
	ByeSlowConsumer = "slow consumer"
	ByeConsumed     = "consumed"
	ByeShutdown     = "server shutting down"
)

// OverflowPolicy decides what happens when a session queue is full.
type OverflowPolicy string

const (
	// OverflowDisconnect tears the slow session down.
	OverflowDisconnect OverflowPolicy = "disconnect"
	// OverflowDrop skips the frame and keeps the session.
	OverflowDrop OverflowPolicy = "drop"
)

const (
	// DefaultQueueSize is the per-session outbound depth.
	DefaultQueueSize = 64
	minQueueSize     = 2
)

// ErrServerFull is returned when admission would exceed the client limit.
var ErrServerFull = errors.New("server full")

// Store is the slice of the game state the session layer drives.
type Store interface {
	AddPlayer(id uint64) world.Player
	RemovePlayer(id uint64) bool
	HandleClientMessage(id uint64, msg protocol.ClientMessage)
	Snapshot() world.Snapshot
	Constants() world.Constants
}

// Options configures a Manager.
type Options struct {
	MaxClients   int
	QueueSize    int
	Overflow     OverflowPolicy
	PingInterval time.Duration
	Validator    *input.Validator
	Metrics      *networking.SnapshotMetrics
	Logger       *logging.Logger
}

// Stats is a point-in-time view of the manager counters.
type Stats struct {
	Clients           int
	PendingHandshakes int64
	Broadcasts        uint64
	DecodeErrors      uint64
	Rejected          uint64
	Overflows         uint64
	Kicks             uint64
}

// Manager admits connections, relays their frames into the store and fans
// snapshots out to every session.
type Manager struct {
	store     Store
	opts      Options
	log       *logging.Logger
	validator *input.Validator
	metrics   *networking.SnapshotMetrics

	mu       sync.Mutex
	sessions map[uint64]*session
	nextID   uint64
	wg       sync.WaitGroup

	pending      atomic.Int64
	broadcasts   atomic.Uint64
	decodeErrors atomic.Uint64
	rejected     atomic.Uint64
	overflows    atomic.Uint64
	kicks        atomic.Uint64
}

type session struct {
	id   uint64
	conn Conn
	log  *logging.Logger
	send chan []byte
	done chan struct{}

	// lastTick is guarded by Manager.mu.
	lastTick uint64

	closeOnce sync.Once
	mu        sync.Mutex
	bye       string
	reason    string
}

// NewManager constructs a session manager over the given store.
func NewManager(store Store, opts Options) *Manager {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.QueueSize < minQueueSize {
		opts.QueueSize = minQueueSize
	}
	if opts.Overflow != OverflowDrop {
		opts.Overflow = OverflowDisconnect
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &Manager{
		store:     store,
		opts:      opts,
		log:       logger,
		validator: opts.Validator,
		metrics:   opts.Metrics,
		sessions:  make(map[uint64]*session),
	}
}

// BeginHandshake counts a transport handshake in progress until the
// returned func is called.
func (m *Manager) BeginHandshake() func() {
	m.pending.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { m.pending.Add(-1) })
	}
}

// Serve runs one session to completion on an established transport.
// It returns ErrServerFull when admission is refused.
func (m *Manager) Serve(ctx context.Context, conn Conn) error {
	s, err := m.admit(conn)
	if err != nil {
		//1.- Refused peers still learn why before the transport closes.
		if errors.Is(err, ErrServerFull) {
			if frame, encErr := protocol.EncodeServer(protocol.Bye{Reason: ByeServerFull}); encErr == nil {
				_ = conn.WriteMessage(frame)
			}
		}
		_ = conn.Close()
		return err
	}
	m.wg.Add(1)
	defer m.wg.Done()

	s.log.Info("session admitted")
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		m.writeLoop(s)
	}()
	stop := context.AfterFunc(ctx, func() { m.teardown(s, ByeShutdown) })
	defer stop()

	m.readLoop(s)
	m.teardown(s, "")
	<-writerDone
	s.log.Info("session closed", logging.String("reason", s.closeReason()))
	return nil
}

func (m *Manager) admit(conn Conn) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opts.MaxClients > 0 && len(m.sessions) >= m.opts.MaxClients {
		m.log.Warn("session refused", logging.Int("clients", len(m.sessions)), logging.Int("max_clients", m.opts.MaxClients))
		return nil, ErrServerFull
	}
	//1.- Ids are monotonic and never reused within the process.
	m.nextID++
	id := m.nextID
	m.store.AddPlayer(id)

	//2.- Welcome and the first snapshot are queued before any broadcast can interleave.
	welcome, err := protocol.EncodeServer(protocol.Welcome{PlayerID: id, Constants: m.store.Constants()})
	if err != nil {
		m.store.RemovePlayer(id)
		return nil, fmt.Errorf("encode welcome: %w", err)
	}
	snapshot := m.store.Snapshot()
	update, err := protocol.EncodeServer(protocol.StateUpdate{Snapshot: snapshot})
	if err != nil {
		m.store.RemovePlayer(id)
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	s := &session{
		id:       id,
		conn:     conn,
		log:      m.log.With(logging.Uint64("player_id", id)),
		send:     make(chan []byte, m.opts.QueueSize),
		done:     make(chan struct{}),
		lastTick: snapshot.Tick,
	}
	s.send <- welcome
	s.send <- update
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) readLoop(s *session) {
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			s.noteReason("disconnected")
			s.log.Debug("read loop finished", logging.Error(err))
			return
		}
		msg, err := protocol.DecodeClient(data)
		if err != nil {
			//1.- Undecodable frames are dropped; the session keeps going.
			m.decodeErrors.Add(1)
			s.log.Debug("client frame dropped", logging.Error(err), logging.Int("bytes", len(data)))
			continue
		}
		if _, ok := msg.(protocol.Quit); ok {
			s.noteReason("quit")
			return
		}
		decision := m.validator.Validate(msg)
		if !decision.Accepted {
			m.rejected.Add(1)
			continue
		}
		m.store.HandleClientMessage(s.id, decision.Message)
	}
}

func (m *Manager) writeLoop(s *session) {
	defer s.conn.Close()

	var ping <-chan time.Time
	if m.opts.PingInterval > 0 {
		ticker := time.NewTicker(m.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case frame := <-s.send:
			if err := m.write(s, frame); err != nil {
				s.noteReason("write failed")
				s.log.Debug("write failed", logging.Error(err))
				m.teardown(s, "")
				return
			}
		case <-ping:
			if err := s.conn.Ping(); err != nil {
				s.noteReason("ping failed")
				s.log.Debug("ping failed", logging.Error(err))
				m.teardown(s, "")
				return
			}
		case <-s.done:
			m.finish(s)
			return
		}
	}
}

// finish flushes what the session already owns, then says goodbye.
func (m *Manager) finish(s *session) {
	bye := s.byeReason()
	if bye != ByeSlowConsumer {
	drain:
		for {
			select {
			case frame := <-s.send:
				if err := m.write(s, frame); err != nil {
					return
				}
			default:
				break drain
			}
		}
	}
	if bye == "" {
		return
	}
	frame, err := protocol.EncodeServer(protocol.Bye{Reason: bye})
	if err != nil {
		return
	}
	_ = s.conn.WriteMessage(frame)
}

func (m *Manager) write(s *session, frame []byte) error {
	if err := s.conn.WriteMessage(frame); err != nil {
		return err
	}
	m.metrics.Observe(s.id, len(frame))
	return nil
}

// teardown removes the session from the registry and the store exactly once.
// A non-empty bye is sent to the peer before the transport closes.
func (m *Manager) teardown(s *session, bye string) {
	s.closeOnce.Do(func() {
		if bye != "" {
			s.mu.Lock()
			s.bye = bye
			s.mu.Unlock()
			s.noteReason(bye)
		}
		m.mu.Lock()
		if current, ok := m.sessions[s.id]; ok && current == s {
			delete(m.sessions, s.id)
		}
		m.mu.Unlock()
		m.store.RemovePlayer(s.id)
		m.metrics.ForgetClient(s.id)
		close(s.done)
	})
}

// Broadcast encodes the snapshot once and offers it to every session
// without blocking. It returns how many sessions accepted the frame.
func (m *Manager) Broadcast(snapshot world.Snapshot) int {
	frame, err := protocol.EncodeServer(protocol.StateUpdate{Snapshot: snapshot})
	if err != nil {
		m.log.Error("encode snapshot failed", logging.Error(err), logging.Uint64("tick", snapshot.Tick))
		return 0
	}
	m.broadcasts.Add(1)

	delivered := 0
	var evict []*session
	m.mu.Lock()
	for _, s := range m.sessions {
		//1.- Never let an older snapshot overtake the one a session already has.
		if snapshot.Tick <= s.lastTick {
			m.metrics.Drop(networking.DropReasonStale)
			continue
		}
		select {
		case s.send <- frame:
			s.lastTick = snapshot.Tick
			delivered++
		default:
			m.overflows.Add(1)
			m.metrics.Drop(networking.DropReasonQueueFull)
			if m.opts.Overflow == OverflowDisconnect {
				evict = append(evict, s)
			}
		}
	}
	m.mu.Unlock()

	//2.- Evictions take the store lock, so they run after the registry lock is released.
	for _, s := range evict {
		s.log.Warn("slow consumer disconnected", logging.Int("queue", m.opts.QueueSize))
		m.teardown(s, ByeSlowConsumer)
	}
	return delivered
}

// Kick sends Bye with the reason and closes the session. Unknown ids are ignored.
func (m *Manager) Kick(id uint64, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.kicks.Add(1)
	m.teardown(s, reason)
	return true
}

// CloseAll tears every session down with the given Bye reason.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		m.teardown(s, reason)
	}
}

// Wait blocks until every Serve call has returned or the context ends.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount reports the number of admitted sessions.
func (m *Manager) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats returns the manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Clients:           m.ClientCount(),
		PendingHandshakes: m.pending.Load(),
		Broadcasts:        m.broadcasts.Load(),
		DecodeErrors:      m.decodeErrors.Load(),
		Rejected:          m.rejected.Load(),
		Overflows:         m.overflows.Load(),
		Kicks:             m.kicks.Load(),
	}
}

func (s *session) noteReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *session) closeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *session) byeReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bye
}
