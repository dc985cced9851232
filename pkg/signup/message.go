package signup

import (
	"encoding/json"
	"net/url"
	"strings"
)

// embeddedSignupType is the discriminator carried by every signup message.
const embeddedSignupType = "WA_EMBEDDED_SIGNUP"

// Message is a cross-origin message event as relayed from the browser window.
// Data is either already decoded (map[string]interface{}) or raw JSON text.
type Message struct {
	Origin string      `json:"origin"`
	Data   interface{} `json:"data"`
}

type SignalKind int

const (
	SignalFinish SignalKind = iota + 1
	SignalCancel
	SignalError
)

// Signal is a recognised signup message.
type Signal struct {
	Kind          SignalKind
	Event         string
	WABAID        string
	PhoneNumberID string
	BusinessID    string
	CurrentStep   string
	ErrorMessage  string
}

type wireMessage struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  struct {
		WABAID        string `json:"waba_id"`
		PhoneNumberID string `json:"phone_number_id"`
		BusinessID    string `json:"business_id"`
		CurrentStep   string `json:"current_step"`
		ErrorMessage  string `json:"error_message"`
		ErrorID       string `json:"error_id"`
	} `json:"data"`
}

// ParseMessage returns the signal carried by msg, or false when the message comes from
// an untrusted origin, is not valid JSON, or is not an embedded signup message.
func ParseMessage(msg Message, trustedSuffix string) (Signal, bool) {
	if !originTrusted(msg.Origin, trustedSuffix) {
		return Signal{}, false
	}

	raw, ok := rawData(msg.Data)
	if !ok {
		return Signal{}, false
	}

	var wm wireMessage
	if err := json.Unmarshal(raw, &wm); err != nil {
		return Signal{}, false
	}
	if wm.Type != embeddedSignupType {
		return Signal{}, false
	}

	sig := Signal{
		Event:         wm.Event,
		WABAID:        wm.Data.WABAID,
		PhoneNumberID: wm.Data.PhoneNumberID,
		BusinessID:    wm.Data.BusinessID,
		CurrentStep:   wm.Data.CurrentStep,
		ErrorMessage:  wm.Data.ErrorMessage,
	}

	switch {
	case strings.HasPrefix(wm.Event, "FINISH"):
		sig.Kind = SignalFinish
	case wm.Event == "CANCEL":
		sig.Kind = SignalCancel
	case strings.EqualFold(wm.Event, "error"):
		sig.Kind = SignalError
		if sig.ErrorMessage == "" {
			sig.ErrorMessage = "embedded signup reported an error"
		}
	default:
		return Signal{}, false
	}
	return sig, true
}

func rawData(data interface{}) ([]byte, bool) {
	switch v := data.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	case json.RawMessage:
		// a JSON string holding JSON is unwrapped once
		var inner string
		if json.Unmarshal(v, &inner) == nil {
			return []byte(inner), true
		}
		return v, true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return b, true
	}
}

// originTrusted accepts origins whose host is the suffix itself or a subdomain of it.
func originTrusted(origin, suffix string) bool {
	suffix = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(suffix), "."))
	if suffix == "" || origin == "" {
		return false
	}

	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.ToLower(host)

	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
