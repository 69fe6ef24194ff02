package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
	"github.com/intervue/interview-rtc/internal/metrics"
)

// Conn abstracts the signaling transport endpoint of one participant.
// Owned by the adapter; Close must be idempotent.
type Conn interface {
	TrySend(data []byte) error
	Close()
}

// Observer receives session lifecycle transitions. Callbacks fire
// outside session locks, in transition order for any one session.
type Observer interface {
	SessionActive(id domain.SessionID)
	SessionEnded(id domain.SessionID, status domain.SessionStatus)
}

type participant struct {
	meta *domain.Participant
	conn Conn
}

type session struct {
	mu    sync.Mutex
	data  domain.Session
	parts []*participant // join order, at most domain.MaxParticipants
}

// Manager owns the session table and every session/participant state
// machine. All other components reach sessions through it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*session

	cfg       config.Signaling
	observers []Observer
	now       func() time.Time
}

func NewManager(cfg config.Signaling) *Manager {
	return &Manager{
		sessions: make(map[domain.SessionID]*session),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Subscribe registers a lifecycle observer. Not safe to call after the
// manager starts serving traffic.
func (m *Manager) Subscribe(o Observer) {
	m.observers = append(m.observers, o)
}

// Create allocates a session in CREATED state.
func (m *Manager) Create() (domain.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 {
		live := 0
		for _, s := range m.sessions {
			s.mu.Lock()
			if !s.data.Status.Terminal() {
				live++
			}
			s.mu.Unlock()
		}
		if live >= m.cfg.MaxSessions {
			return "", ErrCapacityExceeded
		}
	}

	id := domain.NewSessionID()
	m.sessions[id] = &session{
		data: domain.Session{
			ID:        id,
			Status:    domain.SessionCreated,
			CreatedAt: m.now(),
		},
	}
	metrics.SessionsCreated.Inc()
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	log.Info().Str("module", "signaling").Str("session", string(id)).Msg("session created")
	return id, nil
}

// JoinResult tells the adapter what to answer the joiner with.
type JoinResult struct {
	Role        domain.Role
	PeerPresent bool
}

// Join registers a participant and its transport. The second join flips
// the session ACTIVE and the first participant receives PEER_JOINED.
func (m *Manager) Join(id domain.SessionID, pid domain.ParticipantID, info ParticipantInfo, conn Conn) (JoinResult, error) {
	s, ok := m.lookup(id)
	if !ok {
		return JoinResult{}, ErrSessionNotFound
	}

	var becameActive bool
	var peer *participant

	s.mu.Lock()
	if s.data.Status.Terminal() {
		s.mu.Unlock()
		return JoinResult{}, ErrSessionEnded
	}

	// Reconnect of a known participant reuses its slot.
	for _, p := range s.parts {
		if p.meta.ID == pid {
			if p.meta.State != domain.ConnConnected {
				metrics.ConnectedParticipants.Inc()
			}
			p.conn = conn
			p.meta.State = domain.ConnConnected
			p.meta.LastHeartbeat = m.now()
			res := JoinResult{Role: p.meta.Role, PeerPresent: len(s.parts) == domain.MaxParticipants}
			s.mu.Unlock()
			log.Info().Str("module", "signaling").Str("session", string(id)).Str("participant", string(pid)).Msg("participant reconnected")
			return res, nil
		}
	}

	if len(s.parts) >= domain.MaxParticipants {
		s.mu.Unlock()
		return JoinResult{}, ErrSessionFull
	}

	meta, err := domain.NewParticipant(pid, info.Name, domain.Role(info.Role))
	if err != nil {
		s.mu.Unlock()
		return JoinResult{}, err
	}
	meta.State = domain.ConnConnected
	s.parts = append(s.parts, &participant{meta: meta, conn: conn})

	res := JoinResult{Role: meta.Role, PeerPresent: len(s.parts) == domain.MaxParticipants}
	if res.PeerPresent && s.data.Status == domain.SessionCreated {
		s.data.Status = domain.SessionActive
		becameActive = true
		peer = s.parts[0]
	}
	s.mu.Unlock()

	metrics.ConnectedParticipants.Inc()
	log.Info().Str("module", "signaling").Str("session", string(id)).
		Str("participant", string(pid)).Str("role", string(res.Role)).Msg("participant joined")

	if becameActive {
		m.send(peer, Message{Type: TypePeerJoined})
		for _, o := range m.observers {
			o.SessionActive(id)
		}
	}
	return res, nil
}

// Relay forwards an opaque signaling payload to the other participant.
// The payload is not inspected beyond envelope validation done by the
// adapter. A disconnected target is reported for logging only.
func (m *Manager) Relay(id domain.SessionID, from domain.ParticipantID, payload []byte) error {
	s, ok := m.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	var sender, target *participant
	for _, p := range s.parts {
		if p.meta.ID == from {
			sender = p
		} else {
			target = p
		}
	}
	if sender == nil {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if target == nil || target.meta.State != domain.ConnConnected || target.conn == nil {
		s.mu.Unlock()
		return ErrPeerNotConnected
	}
	err := target.conn.TrySend(payload)
	s.mu.Unlock()

	if err == nil {
		metrics.MessagesRelayed.Inc()
	}
	return err
}

// Heartbeat stamps the participant's liveness.
func (m *Manager) Heartbeat(id domain.SessionID, pid domain.ParticipantID) error {
	s, ok := m.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.parts {
		if p.meta.ID == pid {
			p.meta.LastHeartbeat = m.now()
			return nil
		}
	}
	return ErrNotParticipant
}

// Leave transitions the participant to DISCONNECTED. When nobody is
// left connected the session ends gracefully.
func (m *Manager) Leave(id domain.SessionID, pid domain.ParticipantID) error {
	return m.leave(id, pid, nil)
}

// LeaveConn is the transport close path. It only applies while conn is
// still the participant's bound transport, so a dying socket cannot
// disconnect a participant that already reconnected on a new one.
func (m *Manager) LeaveConn(id domain.SessionID, pid domain.ParticipantID, conn Conn) error {
	return m.leave(id, pid, conn)
}

func (m *Manager) leave(id domain.SessionID, pid domain.ParticipantID, conn Conn) error {
	s, ok := m.lookup(id)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	var target *participant
	var peer *participant
	for _, p := range s.parts {
		if p.meta.ID == pid {
			target = p
		} else if p.meta.State == domain.ConnConnected {
			peer = p
		}
	}
	if target == nil {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if conn != nil && target.conn != conn {
		s.mu.Unlock()
		return nil
	}
	if target.meta.State == domain.ConnConnected {
		metrics.ConnectedParticipants.Dec()
	}
	target.meta.State = domain.ConnDisconnected

	ended := false
	if peer == nil && !s.data.Status.Terminal() {
		m.endLocked(s, domain.SessionEnded)
		ended = true
	}
	s.mu.Unlock()

	log.Info().Str("module", "signaling").Str("session", string(id)).Str("participant", string(pid)).Msg("participant left")

	if peer != nil {
		m.send(peer, Message{Type: TypePeerLeft})
	}
	if ended {
		m.notifyEnded(id, domain.SessionEnded)
	}
	return nil
}

// SetRecording flips the session's recording-active flag.
func (m *Manager) SetRecording(id domain.SessionID, on bool) {
	if s, ok := m.lookup(id); ok {
		s.mu.Lock()
		s.data.Recording = on
		s.mu.Unlock()
	}
}

// Info returns a read-only snapshot. Ended sessions stay visible for
// the retention window, then the sweep evicts them.
func (m *Manager) Info(id domain.SessionID) (domain.SessionSnapshot, error) {
	s, ok := m.lookup(id)
	if !ok {
		return domain.SessionSnapshot{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionSnapshot{
		ID:           s.data.ID,
		Status:       s.data.Status,
		Participants: len(s.parts),
		Recording:    s.data.Recording,
		CreatedAt:    s.data.CreatedAt,
	}, nil
}

// Stats summarizes the table for health reporting.
type Stats struct {
	Sessions  int `json:"sessions"`
	Active    int `json:"active"`
	Connected int `json:"connectedParticipants"`
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{Sessions: len(m.sessions)}
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.data.Status == domain.SessionActive {
			st.Active++
		}
		for _, p := range s.parts {
			if p.meta.State == domain.ConnConnected {
				st.Connected++
			}
		}
		s.mu.Unlock()
	}
	return st
}

// Run drives the heartbeat sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			m.Sweep(now)
		}
	}
}

// Sweep is one tick of the liveness scan: evicts stale participants,
// times out overlong sessions and drops terminal sessions past the
// retention window. Exported so tests can drive ticks deterministically.
func (m *Manager) Sweep(now time.Time) {
	m.mu.RLock()
	ids := make([]domain.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.sweepSession(id, now)
	}
	m.mu.RLock()
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.RUnlock()
}

func (m *Manager) sweepSession(id domain.SessionID, now time.Time) {
	s, ok := m.lookup(id)
	if !ok {
		return
	}

	var timedOut bool
	var evicted []*participant
	var peers []*participant

	s.mu.Lock()
	switch {
	case s.data.Status.Terminal():
		if now.Sub(s.data.EndedAt) > m.cfg.SessionRetention {
			s.mu.Unlock()
			m.evict(id)
			return
		}
		s.mu.Unlock()
		return

	case now.Sub(s.data.CreatedAt) > m.cfg.MaxSessionDuration:
		for _, p := range s.parts {
			if p.meta.State == domain.ConnConnected {
				p.meta.State = domain.ConnDisconnected
				metrics.ConnectedParticipants.Dec()
				evicted = append(evicted, p)
			}
		}
		m.endLocked(s, domain.SessionTimedOut)
		timedOut = true

	default:
		for _, p := range s.parts {
			if p.meta.State == domain.ConnConnected && now.Sub(p.meta.LastHeartbeat) > m.cfg.ConnectionTimeout {
				p.meta.State = domain.ConnDisconnected
				metrics.ConnectedParticipants.Dec()
				evicted = append(evicted, p)
				log.Warn().Str("module", "signaling").Str("session", string(id)).
					Str("participant", string(p.meta.ID)).Msg("heartbeat timeout, evicting")
			}
		}
		if len(evicted) > 0 {
			stillConnected := false
			for _, p := range s.parts {
				if p.meta.State == domain.ConnConnected {
					stillConnected = true
					peers = append(peers, p)
				}
			}
			if !stillConnected && len(s.parts) > 0 {
				m.endLocked(s, domain.SessionTimedOut)
				timedOut = true
			}
		}
	}
	s.mu.Unlock()

	for _, p := range peers {
		m.send(p, Message{Type: TypePeerLeft})
	}
	for _, p := range evicted {
		if p.conn != nil {
			p.conn.Close()
		}
	}
	if timedOut {
		log.Info().Str("module", "signaling").Str("session", string(id)).Msg("session timed out")
		m.notifyEnded(id, domain.SessionTimedOut)
	}
}

// endLocked finalizes the session record. Caller holds s.mu.
func (m *Manager) endLocked(s *session, status domain.SessionStatus) {
	now := m.now()
	s.data.Status = status
	s.data.EndedAt = now
	s.data.DurationMillis = now.Sub(s.data.CreatedAt).Milliseconds()
}

func (m *Manager) notifyEnded(id domain.SessionID, status domain.SessionStatus) {
	for _, o := range m.observers {
		o.SessionEnded(id, status)
	}
}

func (m *Manager) lookup(id domain.SessionID) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) evict(id domain.SessionID) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	log.Info().Str("module", "signaling").Str("session", string(id)).Msg("session evicted")
}

func (m *Manager) send(p *participant, msg Message) {
	if p == nil || p.conn == nil {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Str("module", "signaling").Err(err).Msg("marshal notification")
		return
	}
	if err := p.conn.TrySend(b); err != nil {
		log.Warn().Str("module", "signaling").Str("participant", string(p.meta.ID)).
			Err(err).Msg("drop notification")
	}
}
