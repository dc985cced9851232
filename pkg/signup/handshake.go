package signup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/caam1406/clawdesk/pkg/logger"
)

// DefaultTimeout bounds the wait for the second source once the login callback lands.
const DefaultTimeout = 60 * time.Second

// Phase is the lifecycle position of a handshake session.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseAwaiting  Phase = "awaiting"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further transition is possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed || p == PhaseCancelled
}

// Handlers receive the single terminal outcome of a session. Nil handlers are skipped.
type Handlers struct {
	OnSuccess func(Result)
	OnError   func(error)
	OnCancel  func()
}

// Snapshot is a point-in-time view of a session. Seq increases with every transition.
type Snapshot struct {
	ID        string    `json:"id"`
	Phase     Phase     `json:"phase"`
	Result    Result    `json:"result"`
	HasLogin  bool      `json:"has_login"`
	HasData   bool      `json:"has_business"`
	Error     string    `json:"error,omitempty"`
	Seq       uint64    `json:"seq"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Handshake launches signup sessions. The zero Clock and Timeout use the wall clock
// and DefaultTimeout.
type Handshake struct {
	SDK                 SDK
	Source              MessageSource
	Clock               clock.Clock
	Timeout             time.Duration
	TrustedOriginSuffix string
	ConfigID            string
	Extras              map[string]interface{}
	// Observer sees every transition, including partial captures.
	Observer func(Snapshot)
}

// Run starts a session with a fresh id.
func (hs *Handshake) Run(ctx context.Context, h Handlers) *Session {
	return hs.Start(ctx, uuid.NewString(), h)
}

// Start initialises the SDK, subscribes to the message source and opens the login
// popup. ctx bounds those calls only; the session then lives until it settles or is
// closed. The returned session may already be terminal.
func (hs *Handshake) Start(ctx context.Context, id string, h Handlers) *Session {
	clk := hs.Clock
	if clk == nil {
		clk = clock.New()
	}
	timeout := hs.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	now := clk.Now()
	s := &Session{
		id:        id,
		clock:     clk,
		timeout:   timeout,
		suffix:    hs.TrustedOriginSuffix,
		handlers:  h,
		observer:  hs.Observer,
		phase:     PhaseIdle,
		startedAt: now,
		updatedAt: now,
		done:      make(chan struct{}),
	}

	if hs.ConfigID == "" {
		s.failWith(ErrMissingConfig)
		return s
	}
	if hs.SDK == nil || hs.Source == nil {
		s.failWith(ErrSDKUnavailable)
		return s
	}

	if err := hs.SDK.Init(ctx); err != nil {
		if aborted(err) {
			s.Close()
		} else {
			s.failWith(fmt.Errorf("%w: %w", ErrSDKUnavailable, err))
		}
		return s
	}

	s.mu.Lock()
	fire := s.transitionLocked(PhaseAwaiting)
	s.mu.Unlock()
	fire()

	s.attach(hs.Source.Subscribe(s.onMessage))

	opts := LoginOptions{
		ConfigID:                    hs.ConfigID,
		State:                       id,
		ResponseType:                "code",
		OverrideDefaultResponseType: true,
		Extras:                      hs.Extras,
	}
	if err := hs.SDK.Login(ctx, opts, s.onLogin); err != nil {
		if aborted(err) {
			s.Close()
		} else {
			s.failWith(err)
		}
	}
	return s
}

// aborted reports whether err comes from the caller's context rather than the SDK.
func aborted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Session is one signup attempt. All methods are safe for concurrent use.
type Session struct {
	id       string
	clock    clock.Clock
	timeout  time.Duration
	suffix   string
	handlers Handlers
	observer func(Snapshot)

	mu        sync.Mutex
	phase     Phase
	state     State
	err       error
	seq       uint64
	sub       Subscription
	timer     *clock.Timer
	startedAt time.Time
	updatedAt time.Time
	done      chan struct{}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err is the terminal error of a failed session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Result returns the joined record once the session has completed.
func (s *Session) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Result(), s.phase == PhaseCompleted
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Done is closed once the session has settled and its terminal handler has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close tears the session down. A session that has not settled reports a cancel.
func (s *Session) Close() {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	fire := s.settleLocked(PhaseCancelled, nil)
	s.mu.Unlock()
	fire()
}

func (s *Session) attach(sub Subscription) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		sub.Dispose()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

func (s *Session) onLogin(resp LoginResponse) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}

	var fire func()
	switch resp.Status {
	case StatusConnected:
		if resp.Code == "" {
			fire = s.settleLocked(PhaseFailed, ErrMissingCode)
			break
		}
		s.state = s.state.WithLogin(resp.Code)
		if IsComplete(s.state) {
			fire = s.settleLocked(PhaseCompleted, nil)
			break
		}
		if s.timer == nil {
			s.timer = s.clock.AfterFunc(s.timeout, s.onTimeout)
		}
		fire = s.transitionLocked(PhaseAwaiting)
	case StatusNotAuthorized:
		fire = s.settleLocked(PhaseFailed, ErrNotAuthorized)
	default:
		fire = s.settleLocked(PhaseCancelled, nil)
	}
	s.mu.Unlock()
	fire()
}

func (s *Session) onMessage(msg Message) {
	sig, ok := ParseMessage(msg, s.suffix)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}

	var fire func()
	switch sig.Kind {
	case SignalFinish:
		s.state = s.state.WithBusiness(sig.WABAID, sig.PhoneNumberID, sig.BusinessID)
		if IsComplete(s.state) {
			fire = s.settleLocked(PhaseCompleted, nil)
		} else {
			fire = s.transitionLocked(PhaseAwaiting)
		}
	case SignalCancel:
		logger.InfoCF("signup", "Signup cancelled in popup", map[string]interface{}{
			"session": s.id,
			"step":    sig.CurrentStep,
		})
		fire = s.settleLocked(PhaseCancelled, nil)
	case SignalError:
		fire = s.settleLocked(PhaseFailed, &RemoteError{Message: sig.ErrorMessage, Step: sig.CurrentStep})
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fire()
}

func (s *Session) onTimeout() {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	fire := s.settleLocked(PhaseFailed, ErrTimeout)
	s.mu.Unlock()
	fire()
}

func (s *Session) failWith(err error) {
	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		return
	}
	fire := s.settleLocked(PhaseFailed, err)
	s.mu.Unlock()
	fire()
}

// transitionLocked records a non-terminal change and returns the notification to run
// once the lock is released.
func (s *Session) transitionLocked(phase Phase) func() {
	s.phase = phase
	s.seq++
	s.updatedAt = s.clock.Now()
	snap := s.snapshotLocked()
	observer := s.observer
	return func() {
		if observer != nil {
			observer(snap)
		}
	}
}

// settleLocked moves the session to a terminal phase. It must be called at most once,
// which the Terminal checks in every caller guarantee. The returned func releases
// resources and fires the matching handler.
func (s *Session) settleLocked(phase Phase, err error) func() {
	s.phase = phase
	s.err = err
	s.seq++
	s.updatedAt = s.clock.Now()
	snap := s.snapshotLocked()
	result := s.state.Result()

	sub, timer := s.sub, s.timer
	s.sub, s.timer = nil, nil

	observer := s.observer
	h := s.handlers
	return func() {
		if sub != nil {
			sub.Dispose()
		}
		if timer != nil {
			timer.Stop()
		}

		if observer != nil {
			observer(snap)
		}

		switch phase {
		case PhaseCompleted:
			if h.OnSuccess != nil {
				h.OnSuccess(result)
			}
		case PhaseFailed:
			logger.WarnCF("signup", "Signup failed", map[string]interface{}{
				"session": s.id,
				"error":   err.Error(),
			})
			if h.OnError != nil {
				h.OnError(err)
			}
		case PhaseCancelled:
			if h.OnCancel != nil {
				h.OnCancel()
			}
		}
		close(s.done)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Phase:     s.phase,
		Result:    s.state.Result(),
		HasLogin:  s.state.HasLogin(),
		HasData:   s.state.HasBusiness(),
		Seq:       s.seq,
		StartedAt: s.startedAt,
		UpdatedAt: s.updatedAt,
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	return snap
}
