package signup

import (
	"context"
	"errors"
)

var (
	ErrSDKUnavailable = errors.New("signup: login SDK failed to load")
	ErrMissingConfig  = errors.New("signup: app id or config id not configured")
	ErrPopupBlocked   = errors.New("signup: login popup was blocked")
	ErrNotAuthorized  = errors.New("signup: user did not authorize the app")
	ErrMissingCode    = errors.New("signup: login succeeded without an authorization code")
	ErrTimeout        = errors.New("signup: timed out waiting for business account details")
)

// RemoteError is an error reported by the signup flow itself through a message event.
type RemoteError struct {
	Message string
	Step    string
}

func (e *RemoteError) Error() string {
	if e.Step != "" {
		return "signup: " + e.Message + " (step " + e.Step + ")"
	}
	return "signup: " + e.Message
}

// Login statuses reported by the SDK callback.
const (
	StatusConnected     = "connected"
	StatusNotAuthorized = "not_authorized"
	StatusUnknown       = "unknown"
)

// LoginOptions are passed through to the SDK login call.
type LoginOptions struct {
	ConfigID                    string                 `json:"config_id"`
	State                       string                 `json:"state"`
	ResponseType                string                 `json:"response_type"`
	OverrideDefaultResponseType bool                   `json:"override_default_response_type"`
	Extras                      map[string]interface{} `json:"extras,omitempty"`
}

// LoginResponse is what the popup login reports back.
type LoginResponse struct {
	Status string `json:"status"`
	Code   string `json:"code,omitempty"`
}

// SDK is the third-party login SDK. Init must be idempotent. Login returns once the
// popup has been launched (or failed to launch); the callback fires later, at most once.
type SDK interface {
	Init(ctx context.Context) error
	Login(ctx context.Context, opts LoginOptions, callback func(LoginResponse)) error
}
