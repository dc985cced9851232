package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caam1406/clawdesk/pkg/bus"
	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/signup"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
)

const finishJSON = `{"type":"WA_EMBEDDED_SIGNUP","event":"FINISH","data":{"waba_id":"waba-1","phone_number_id":"phone-1","business_id":"biz-1"}}`

func accountFixture(wabaID string) repository.Account {
	return repository.Account{
		WABAID:        wabaID,
		PhoneNumberID: "phone-1",
		BusinessID:    "biz-1",
		Code:          "code-1",
		SessionID:     "s1",
	}
}

func (f *fixture) signupSnapshot(t *testing.T, id string) signup.Snapshot {
	t.Helper()
	var snap signup.Snapshot
	resp := f.do(t, http.MethodGet, "/api/v1/signup/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &snap)
	return snap
}

func TestSignupWithoutBrowserIsBlocked(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/v1/signup", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var body struct {
		Session signup.Snapshot `json:"session"`
		Error   string          `json:"error"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, signup.PhaseFailed, body.Session.Phase)
	assert.Equal(t, signup.ErrPopupBlocked.Error(), body.Error)
	assert.Equal(t, 0, f.srv.bridge.Pending())
}

type fixedCount int

func (c fixedCount) ClientCount() int { return int(c) }

func TestBridge(t *testing.T) {
	cfg := newTestConfig(t)
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	events := msgBus.Subscribe()

	b := NewBridge(cfg, fixedCount(0), msgBus)
	require.NoError(t, b.Init(context.Background()))
	err := b.Login(context.Background(), signup.LoginOptions{State: "s1"}, func(signup.LoginResponse) {})
	assert.ErrorIs(t, err, signup.ErrPopupBlocked)

	b.clients = fixedCount(1)
	var got []signup.LoginResponse
	require.NoError(t, b.Login(context.Background(), signup.LoginOptions{
		ConfigID:     "cfg-1",
		State:        "s1",
		ResponseType: "code",
		Extras:       map[string]interface{}{"sessionInfoVersion": "3"},
	}, func(resp signup.LoginResponse) { got = append(got, resp) }))

	ev := <-events
	require.Equal(t, bus.TypeSignupLaunch, ev.Type)
	assert.Equal(t, "s1", ev.SignupLaunch.SessionID)
	assert.Equal(t, "v21.0", ev.SignupLaunch.GraphVersion)
	assert.Equal(t, "3", ev.SignupLaunch.Extras["sessionInfoVersion"])
	assert.Equal(t, 1, b.Pending())

	assert.False(t, b.Deliver("other", signup.LoginResponse{Status: signup.StatusConnected}))
	assert.True(t, b.Deliver("s1", signup.LoginResponse{Status: signup.StatusConnected, Code: "c"}))
	assert.False(t, b.Deliver("s1", signup.LoginResponse{Status: signup.StatusConnected, Code: "c"}))
	assert.Equal(t, []signup.LoginResponse{{Status: signup.StatusConnected, Code: "c"}}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Login(ctx, signup.LoginOptions{State: "s2"}, nil), context.Canceled)
	assert.Equal(t, 0, b.Pending())

	blank := config.DefaultConfig()
	assert.ErrorIs(t, NewBridge(blank, fixedCount(1), msgBus).Init(context.Background()), signup.ErrMissingConfig)
}

func TestSignupCompletesThroughBrowser(t *testing.T) {
	f := newFixture(t)
	conn := f.dialWS(t)

	resp := f.do(t, http.MethodPost, "/api/v1/signup", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var started signup.Snapshot
	decodeBody(t, resp, &started)
	assert.Equal(t, signup.PhaseAwaiting, started.Phase)

	launch := readUntil(t, conn, bus.TypeSignupLaunch)
	require.NotNil(t, launch.SignupLaunch)
	assert.Equal(t, started.ID, launch.SignupLaunch.SessionID)
	assert.Equal(t, "app-1", launch.SignupLaunch.AppID)
	assert.Equal(t, "cfg-1", launch.SignupLaunch.ConfigID)
	assert.Equal(t, "code", launch.SignupLaunch.ResponseType)
	assert.True(t, launch.SignupLaunch.OverrideDefaultResponseType)

	// the finish message arrives over the socket first
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":   FrameSignupMessage,
		"origin": "https://www.facebook.com",
		"data":   finishJSON,
	}))
	require.Eventually(t, func() bool {
		return f.signupSnapshot(t, started.ID).HasData
	}, 2*time.Second, 10*time.Millisecond)

	resp = f.do(t, http.MethodPost, "/api/v1/signup/"+started.ID+"/login", signup.LoginResponse{
		Status: signup.StatusConnected,
		Code:   "code-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var done signup.Snapshot
	decodeBody(t, resp, &done)
	assert.Equal(t, signup.PhaseCompleted, done.Phase)
	assert.Equal(t, "waba-1", done.Result.WABAID)

	state := readUntil(t, conn, bus.TypeSignupState)
	for state.SignupState.Phase != string(signup.PhaseCompleted) {
		state = readUntil(t, conn, bus.TypeSignupState)
	}
	assert.Equal(t, "phone-1", state.SignupState.PhoneNumberID)

	acc, err := f.store.Accounts().Get(context.Background(), "waba-1")
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, started.ID, acc.SessionID)
	assert.Equal(t, "code-1", acc.Code)

	resp = f.do(t, http.MethodPost, "/api/v1/signup/"+started.ID+"/login", signup.LoginResponse{Status: signup.StatusConnected})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "a login is delivered once")
}

func TestSignupMessageEndpointAndLoginFrame(t *testing.T) {
	f := newFixture(t)
	conn := f.dialWS(t)

	var started signup.Snapshot
	decodeBody(t, f.do(t, http.MethodPost, "/api/v1/signup", nil), &started)

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":       FrameSignupLogin,
		"session_id": started.ID,
		"status":     signup.StatusConnected,
		"code":       "code-2",
	}))
	require.Eventually(t, func() bool {
		return f.signupSnapshot(t, started.ID).HasLogin
	}, 2*time.Second, 10*time.Millisecond)

	var untrusted map[string]int
	decodeBody(t, f.do(t, http.MethodPost, "/api/v1/signup/messages", map[string]interface{}{
		"origin": "https://evil-facebook.com",
		"data":   json.RawMessage(finishJSON),
	}), &untrusted)
	assert.Equal(t, 1, untrusted["delivered"], "delivered to the session, which ignores it")
	assert.Equal(t, signup.PhaseAwaiting, f.signupSnapshot(t, started.ID).Phase)

	var delivered map[string]int
	decodeBody(t, f.do(t, http.MethodPost, "/api/v1/signup/messages", map[string]interface{}{
		"origin": "https://business.facebook.com",
		"data":   json.RawMessage(finishJSON),
	}), &delivered)
	assert.Equal(t, 1, delivered["delivered"])

	snap := f.signupSnapshot(t, started.ID)
	assert.Equal(t, signup.PhaseCompleted, snap.Phase)
	assert.Equal(t, "biz-1", snap.Result.BusinessID)
	assert.Empty(t, snap.Result.Code, "the code is never served")
}

func TestSignupCloseAndLookup(t *testing.T) {
	f := newFixture(t)
	f.dialWS(t)

	var started signup.Snapshot
	decodeBody(t, f.do(t, http.MethodPost, "/api/v1/signup", nil), &started)
	assert.Equal(t, 1, f.srv.bridge.Pending())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/v1/signup/"+started.ID, nil).StatusCode)
	assert.Equal(t, 0, f.srv.bridge.Pending(), "settled sessions drop their pending login")
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/v1/signup/"+started.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/signup/"+started.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/signup/missing/other", nil).StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/v1/signup/messages", nil).StatusCode)
}

func TestSignupErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, signupErrorStatus(signup.ErrPopupBlocked))
	assert.Equal(t, http.StatusServiceUnavailable, signupErrorStatus(signup.ErrSDKUnavailable))
	assert.Equal(t, http.StatusBadGateway, signupErrorStatus(&signup.RemoteError{Message: "boom"}))
}
