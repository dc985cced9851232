package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/logger"
	"github.com/caam1406/clawdesk/pkg/signup"
)

type clientCounter interface {
	ClientCount() int
}

// Bridge drives the login popup in a connected dashboard browser. Launch requests go
// out over the bus and the browser posts the login response back by session id.
type Bridge struct {
	cfg     *config.Config
	clients clientCounter
	msgBus  *bus.MessageBus

	mu      sync.Mutex
	pending map[string]func(signup.LoginResponse)
}

func NewBridge(cfg *config.Config, clients clientCounter, msgBus *bus.MessageBus) *Bridge {
	return &Bridge{
		cfg:     cfg,
		clients: clients,
		msgBus:  msgBus,
		pending: make(map[string]func(signup.LoginResponse)),
	}
}

// Init only checks that the app is configured; the browser loads the SDK itself.
func (b *Bridge) Init(ctx context.Context) error {
	if strings.TrimSpace(b.cfg.Clone().Signup.AppID) == "" {
		return fmt.Errorf("%w: signup app id is not set", signup.ErrMissingConfig)
	}
	return ctx.Err()
}

// Login asks the browsers to open the popup for opts.State. It fails with
// signup.ErrPopupBlocked when no browser is connected to open it.
func (b *Bridge) Login(ctx context.Context, opts signup.LoginOptions, cb func(signup.LoginResponse)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.clients == nil || b.clients.ClientCount() == 0 {
		return signup.ErrPopupBlocked
	}

	b.mu.Lock()
	b.pending[opts.State] = cb
	b.mu.Unlock()

	sc := b.cfg.Clone().Signup
	b.msgBus.PublishSignupLaunch(bus.SignupLaunch{
		SessionID:                   opts.State,
		AppID:                       sc.AppID,
		GraphVersion:                sc.GraphVersion,
		ConfigID:                    opts.ConfigID,
		ResponseType:                opts.ResponseType,
		OverrideDefaultResponseType: opts.OverrideDefaultResponseType,
		Extras:                      opts.Extras,
	})
	logger.DebugCF("dashboard", "Signup popup requested", map[string]interface{}{
		"session": opts.State,
	})
	return nil
}

// Deliver hands the login response for sessionID to the waiting session. Each
// session's callback runs at most once.
func (b *Bridge) Deliver(sessionID string, resp signup.LoginResponse) bool {
	b.mu.Lock()
	cb, ok := b.pending[sessionID]
	delete(b.pending, sessionID)
	b.mu.Unlock()

	if !ok {
		return false
	}
	cb(resp)
	return true
}

// Forget drops a pending login, for sessions that settled some other way.
func (b *Bridge) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.pending, sessionID)
	b.mu.Unlock()
}

func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
