package signaling

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intervue/interview-rtc/internal/config"
	"github.com/intervue/interview-rtc/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeConn) TrySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) types(t *testing.T) []MessageType {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MessageType, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type MessageType `json:"type"`
		}
		require.NoError(t, json.Unmarshal(f, &env))
		out = append(out, env.Type)
	}
	return out
}

func (c *fakeConn) raw() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

type fakeObserver struct {
	mu     sync.Mutex
	active []domain.SessionID
	ended  map[domain.SessionID]domain.SessionStatus
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{ended: make(map[domain.SessionID]domain.SessionStatus)}
}

func (o *fakeObserver) SessionActive(id domain.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = append(o.active, id)
}

func (o *fakeObserver) SessionEnded(id domain.SessionID, status domain.SessionStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended[id] = status
}

func (o *fakeObserver) endedStatus(id domain.SessionID) (domain.SessionStatus, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.ended[id]
	return st, ok
}

func testSignalingConfig() config.Signaling {
	return config.Signaling{
		MaxSessions:        0,
		MaxSessionDuration: 2 * time.Hour,
		HeartbeatInterval:  10 * time.Second,
		ConnectionTimeout:  time.Minute,
		SessionRetention:   5 * time.Minute,
		ReadLimit:          32768,
		PingPeriod:         54 * time.Second,
	}
}

// newTestManager pins the manager clock to a mutable instant the test
// controls.
func newTestManager(cfg config.Signaling) (*Manager, *time.Time) {
	m := NewManager(cfg)
	cur := time.Now()
	m.now = func() time.Time { return cur }
	return m, &cur
}

func joinBoth(t *testing.T, m *Manager, id domain.SessionID) (*fakeConn, *fakeConn) {
	t.Helper()
	a, b := &fakeConn{}, &fakeConn{}
	resA, err := m.Join(id, "p-a", ParticipantInfo{Name: "Alice", Role: "candidate"}, a)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCandidate, resA.Role)
	assert.False(t, resA.PeerPresent)

	resB, err := m.Join(id, "p-b", ParticipantInfo{Name: "Bob", Role: "interviewer"}, b)
	require.NoError(t, err)
	assert.True(t, resB.PeerPresent)
	return a, b
}

func TestSessionLifecycle(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	obs := newFakeObserver()
	m.Subscribe(obs)

	id, err := m.Create()
	require.NoError(t, err)

	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCreated, snap.Status)

	a, _ := joinBoth(t, m, id)

	snap, err = m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, snap.Status)
	assert.Equal(t, 2, snap.Participants)

	// First participant learned about the second.
	assert.Contains(t, a.types(t), TypePeerJoined)
	assert.Equal(t, []domain.SessionID{id}, obs.active)
}

func TestThirdJoinRejected(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	joinBoth(t, m, id)

	_, err = m.Join(id, "p-c", ParticipantInfo{Name: "Eve", Role: "interviewer"}, &fakeConn{})
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestJoinErrors(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())

	_, err := m.Join("missing", "p-a", ParticipantInfo{Name: "A", Role: "candidate"}, &fakeConn{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	id, err := m.Create()
	require.NoError(t, err)
	_, err = m.Join(id, "p-a", ParticipantInfo{Name: "", Role: "candidate"}, &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrNameEmpty)
	_, err = m.Join(id, "p-a", ParticipantInfo{Name: "A", Role: "referee"}, &fakeConn{})
	assert.ErrorIs(t, err, domain.ErrBadRole)

	forceEnd(t, m, id)
	_, err = m.Join(id, "p-x", ParticipantInfo{Name: "X", Role: "candidate"}, &fakeConn{})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func forceEnd(t *testing.T, m *Manager, id domain.SessionID) {
	t.Helper()
	s, ok := m.lookup(id)
	require.True(t, ok)
	s.mu.Lock()
	m.endLocked(s, domain.SessionEnded)
	s.mu.Unlock()
}

func TestCapacityExceeded(t *testing.T) {
	cfg := testSignalingConfig()
	cfg.MaxSessions = 1
	m, _ := newTestManager(cfg)

	_, err := m.Create()
	require.NoError(t, err)
	_, err = m.Create()
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestRelayReachesOnlyPeer(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	a, b := joinBoth(t, m, id)

	offer := []byte(`{"type":"OFFER","sdp":{"type":"offer","sdp":"v=0"}}`)
	require.NoError(t, m.Relay(id, "p-a", offer))

	// B received exactly the frame A sent; A got nothing back.
	require.Len(t, b.raw(), 1)
	assert.Equal(t, offer, b.raw()[0])
	for _, f := range a.raw() {
		assert.NotEqual(t, offer, f)
	}

	assert.ErrorIs(t, m.Relay(id, "p-x", offer), ErrNotParticipant)
}

func TestRelayOrderPreserved(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	_, b := joinBoth(t, m, id)

	frames := [][]byte{
		[]byte(`{"type":"OFFER","sdp":{"type":"offer","sdp":"1"}}`),
		[]byte(`{"type":"CANDIDATE","ice":{"candidate":"2"}}`),
		[]byte(`{"type":"CANDIDATE","ice":{"candidate":"3"}}`),
	}
	for _, f := range frames {
		require.NoError(t, m.Relay(id, "p-a", f))
	}
	assert.Equal(t, frames, b.raw())
}

func TestRelayToDisconnectedPeerDropped(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	joinBoth(t, m, id)

	require.NoError(t, m.Leave(id, "p-b"))
	err = m.Relay(id, "p-a", []byte(`{"type":"CANDIDATE","ice":{"candidate":"x"}}`))
	assert.ErrorIs(t, err, ErrPeerNotConnected)
}

func TestLeaveEndsSession(t *testing.T) {
	m, clock := newTestManager(testSignalingConfig())
	obs := newFakeObserver()
	m.Subscribe(obs)

	id, err := m.Create()
	require.NoError(t, err)
	a, _ := joinBoth(t, m, id)

	require.NoError(t, m.Leave(id, "p-b"))
	assert.Contains(t, a.types(t), TypePeerLeft)

	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, snap.Status)

	require.NoError(t, m.Leave(id, "p-a"))
	snap, err = m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionEnded, snap.Status)

	st, ok := obs.endedStatus(id)
	require.True(t, ok)
	assert.Equal(t, domain.SessionEnded, st)

	// Still visible during retention, evicted after.
	m.Sweep(*clock)
	_, err = m.Info(id)
	require.NoError(t, err)

	m.Sweep(clock.Add(6 * time.Minute))
	_, err = m.Info(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHeartbeatSweepEvictsStale(t *testing.T) {
	m, clock := newTestManager(testSignalingConfig())
	obs := newFakeObserver()
	m.Subscribe(obs)

	id, err := m.Create()
	require.NoError(t, err)
	a, b := joinBoth(t, m, id)

	// B keeps beating, A goes silent.
	*clock = clock.Add(40 * time.Second)
	require.NoError(t, m.Heartbeat(id, "p-b"))
	m.Sweep(clock.Add(30 * time.Second))

	// A exceeded the 60s timeout, B did not.
	assert.True(t, a.closed)
	assert.False(t, b.closed)
	assert.Contains(t, b.types(t), TypePeerLeft)

	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, snap.Status)

	// B goes silent too: next sweep ends the session.
	m.Sweep(clock.Add(3 * time.Minute))
	snap, err = m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTimedOut, snap.Status)

	st, ok := obs.endedStatus(id)
	require.True(t, ok)
	assert.Equal(t, domain.SessionTimedOut, st)
}

func TestHeartbeatsKeepSessionAlive(t *testing.T) {
	m, clock := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	joinBoth(t, m, id)

	// Both sides beat every 30s for a while; session stays ACTIVE.
	for i := 0; i < 10; i++ {
		*clock = clock.Add(30 * time.Second)
		require.NoError(t, m.Heartbeat(id, "p-a"))
		require.NoError(t, m.Heartbeat(id, "p-b"))
		m.Sweep(*clock)
	}
	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, snap.Status)
}

func TestMaxSessionDurationTimesOut(t *testing.T) {
	m, clock := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	a, b := joinBoth(t, m, id)

	m.Sweep(clock.Add(2*time.Hour + time.Minute))

	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionTimedOut, snap.Status)
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestSessionIsolation(t *testing.T) {
	m, clock := newTestManager(testSignalingConfig())
	id1, err := m.Create()
	require.NoError(t, err)
	id2, err := m.Create()
	require.NoError(t, err)

	joinBoth(t, m, id1)
	_, b2 := joinBoth(t, m, id2)

	// Ending one session leaves the other fully functional.
	require.NoError(t, m.Leave(id1, "p-a"))
	require.NoError(t, m.Leave(id1, "p-b"))
	m.Sweep(*clock)

	require.NoError(t, m.Relay(id2, "p-a", []byte(`{"type":"OFFER","sdp":{"type":"offer","sdp":"v=0"}}`)))
	require.Len(t, b2.raw(), 1)

	snap, err := m.Info(id2)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, snap.Status)
}

func TestReconnectReusesSlot(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	joinBoth(t, m, id)

	require.NoError(t, m.Leave(id, "p-a"))
	c := &fakeConn{}
	res, err := m.Join(id, "p-a", ParticipantInfo{Name: "Alice", Role: "candidate"}, c)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCandidate, res.Role)
	assert.True(t, res.PeerPresent)

	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Participants)
}

func TestStaleConnCloseDoesNotDisconnectReconnected(t *testing.T) {
	m, _ := newTestManager(testSignalingConfig())
	id, err := m.Create()
	require.NoError(t, err)
	old, _ := joinBoth(t, m, id)

	// Reconnect p-a on a fresh transport before the old one's close
	// path runs.
	fresh := &fakeConn{}
	_, err = m.Join(id, "p-a", ParticipantInfo{Name: "Alice", Role: "candidate"}, fresh)
	require.NoError(t, err)

	require.NoError(t, m.LeaveConn(id, "p-a", old))

	snap, err := m.Info(id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, snap.Status)
	assert.Equal(t, 2, m.Stats().Connected)

	// The bound transport still leaves normally.
	require.NoError(t, m.LeaveConn(id, "p-a", fresh))
	assert.Equal(t, 1, m.Stats().Connected)
}
