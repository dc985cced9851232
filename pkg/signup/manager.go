package signup

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/caam1406/clawdesk/pkg/logger"
)

const (
	defaultSessionTTL = 30 * time.Minute
	sweepInterval     = time.Minute
	recordTimeout     = 5 * time.Second
)

// Recorder mirrors session snapshots outside the process. Lookup returns a nil map
// for unknown ids.
type Recorder interface {
	Record(ctx context.Context, id string, fields map[string]string) error
	Lookup(ctx context.Context, id string) (map[string]string, error)
	Remove(ctx context.Context, id string) error
}

// AccountSaver persists the result of a completed signup.
type AccountSaver interface {
	SaveAccount(ctx context.Context, sessionID string, r Result) error
}

type AccountSaverFunc func(ctx context.Context, sessionID string, r Result) error

func (f AccountSaverFunc) SaveAccount(ctx context.Context, sessionID string, r Result) error {
	return f(ctx, sessionID, r)
}

// Manager owns the handshake sessions started through the dashboard.
type Manager struct {
	template Handshake
	recorder Recorder
	accounts AccountSaver
	clock    clock.Clock
	ttl      time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	obsMu   sync.Mutex
	lastSeq map[string]uint64
	notify  func(Snapshot)
}

// NewManager builds a manager that launches sessions from hs. recorder and accounts
// may be nil.
func NewManager(hs Handshake, recorder Recorder, accounts AccountSaver) *Manager {
	clk := hs.Clock
	if clk == nil {
		clk = clock.New()
		hs.Clock = clk
	}
	return &Manager{
		template: hs,
		recorder: recorder,
		accounts: accounts,
		clock:    clk,
		ttl:      defaultSessionTTL,
		sessions: make(map[string]*Session),
		lastSeq:  make(map[string]uint64),
	}
}

// SetNotifier registers fn to receive every snapshot in order.
func (m *Manager) SetNotifier(fn func(Snapshot)) {
	m.obsMu.Lock()
	m.notify = fn
	m.obsMu.Unlock()
}

// SetTTL sets how long settled sessions stay queryable in memory.
func (m *Manager) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.ttl = ttl
	m.mu.Unlock()
}

// Start launches a session. A session that fails immediately is kept for inspection
// and its error returned alongside the snapshot.
func (m *Manager) Start(ctx context.Context) (Snapshot, error) {
	id := uuid.NewString()
	hs := m.template
	hs.Observer = m.observe

	s := hs.Start(ctx, id, Handlers{
		OnSuccess: func(r Result) { m.onSuccess(id, r) },
		OnCancel: func() {
			logger.InfoCF("signup", "Signup cancelled", map[string]interface{}{"session": id})
		},
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	snap := s.Snapshot()
	if snap.Phase == PhaseFailed {
		return snap, s.Err()
	}
	logger.InfoCF("signup", "Signup started", map[string]interface{}{"session": id})
	return snap, nil
}

// Get returns the latest snapshot for id, from memory or from the recorder.
func (m *Manager) Get(ctx context.Context, id string) (Snapshot, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s.Snapshot(), true
	}

	if m.recorder == nil {
		return Snapshot{}, false
	}
	fields, err := m.recorder.Lookup(ctx, id)
	if err != nil {
		logger.WarnCF("signup", "Session lookup failed", map[string]interface{}{
			"session": id,
			"error":   err.Error(),
		})
		return Snapshot{}, false
	}
	if fields == nil {
		return Snapshot{}, false
	}
	return snapshotFromFields(id, fields), true
}

// Close cancels the session if it is still running and forgets it.
func (m *Manager) Close(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Close()
	}
	m.obsMu.Lock()
	delete(m.lastSeq, id)
	m.obsMu.Unlock()

	if m.recorder != nil {
		if err := m.recorder.Remove(ctx, id); err != nil {
			logger.WarnCF("signup", "Failed to remove session record", map[string]interface{}{
				"session": id,
				"error":   err.Error(),
			})
		}
	}
	return ok
}

// Active counts sessions that have not settled.
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if !s.Phase().Terminal() {
			n++
		}
	}
	return n
}

// Run sweeps settled sessions until ctx is done, then shuts every session down.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Shutdown cancels every running session.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) sweep() {
	now := m.clock.Now()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		snap := s.Snapshot()
		if snap.Phase.Terminal() && now.Sub(snap.UpdatedAt) >= m.ttl {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	m.obsMu.Lock()
	for _, id := range expired {
		delete(m.lastSeq, id)
	}
	m.obsMu.Unlock()
}

func (m *Manager) onSuccess(id string, r Result) {
	logger.InfoCF("signup", "Signup completed", map[string]interface{}{
		"session": id,
		"waba_id": r.WABAID,
	})
	if m.accounts == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.accounts.SaveAccount(ctx, id, r); err != nil {
		logger.ErrorCF("signup", "Failed to save signup account", map[string]interface{}{
			"session": id,
			"waba_id": r.WABAID,
			"error":   err.Error(),
		})
	}
}

// observe serialises snapshots per session, dropping any that arrive out of order.
func (m *Manager) observe(snap Snapshot) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	if snap.Seq <= m.lastSeq[snap.ID] {
		return
	}
	m.lastSeq[snap.ID] = snap.Seq

	if m.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := m.recorder.Record(ctx, snap.ID, snapshotFields(snap)); err != nil {
			logger.WarnCF("signup", "Failed to record session", map[string]interface{}{
				"session": snap.ID,
				"error":   err.Error(),
			})
		}
		cancel()
	}

	if m.notify != nil {
		m.notify(snap)
	}
}

// snapshotFields flattens a snapshot for the recorder. The authorization code is
// never written out.
func snapshotFields(snap Snapshot) map[string]string {
	return map[string]string{
		"phase":           string(snap.Phase),
		"seq":             strconv.FormatUint(snap.Seq, 10),
		"has_login":       strconv.FormatBool(snap.HasLogin),
		"has_business":    strconv.FormatBool(snap.HasData),
		"waba_id":         snap.Result.WABAID,
		"phone_number_id": snap.Result.PhoneNumberID,
		"business_id":     snap.Result.BusinessID,
		"error":           snap.Error,
		"started_at":      snap.StartedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func snapshotFromFields(id string, fields map[string]string) Snapshot {
	snap := Snapshot{
		ID:    id,
		Phase: Phase(fields["phase"]),
		Result: Result{
			WABAID:        fields["waba_id"],
			PhoneNumberID: fields["phone_number_id"],
			BusinessID:    fields["business_id"],
		},
		Error: fields["error"],
	}
	snap.Seq, _ = strconv.ParseUint(fields["seq"], 10, 64)
	snap.HasLogin, _ = strconv.ParseBool(fields["has_login"])
	snap.HasData, _ = strconv.ParseBool(fields["has_business"])
	snap.StartedAt, _ = time.Parse(time.RFC3339Nano, fields["started_at"])
	snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return snap
}
