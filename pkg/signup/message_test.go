package signup

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

const finishJSON = `{"type":"WA_EMBEDDED_SIGNUP","event":"FINISH","data":{"waba_id":"w1","phone_number_id":"p1","business_id":"b1"}}`

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name   string
		msg    Message
		ok     bool
		kind   SignalKind
		expect func(t *testing.T, sig Signal)
	}{
		{
			name: "string payload",
			msg:  Message{Origin: "https://www.facebook.com", Data: finishJSON},
			ok:   true,
			kind: SignalFinish,
			expect: func(t *testing.T, sig Signal) {
				assert.Equal(t, "w1", sig.WABAID)
				assert.Equal(t, "p1", sig.PhoneNumberID)
				assert.Equal(t, "b1", sig.BusinessID)
			},
		},
		{
			name: "decoded payload",
			msg: Message{Origin: "https://web.facebook.com", Data: map[string]interface{}{
				"type":  "WA_EMBEDDED_SIGNUP",
				"event": "FINISH_ONLY_WABA",
				"data":  map[string]interface{}{"waba_id": "w2"},
			}},
			ok:   true,
			kind: SignalFinish,
			expect: func(t *testing.T, sig Signal) {
				assert.Equal(t, "FINISH_ONLY_WABA", sig.Event)
				assert.Equal(t, "w2", sig.WABAID)
			},
		},
		{
			name: "raw json payload",
			msg:  Message{Origin: "https://facebook.com", Data: json.RawMessage(finishJSON)},
			ok:   true,
			kind: SignalFinish,
		},
		{
			name: "json string holding json",
			msg:  Message{Origin: "https://facebook.com", Data: json.RawMessage(mustQuote(finishJSON))},
			ok:   true,
			kind: SignalFinish,
		},
		{
			name: "app onboarding finish",
			msg:  Message{Origin: "https://business.facebook.com", Data: []byte(`{"type":"WA_EMBEDDED_SIGNUP","event":"FINISH_WHATSAPP_BUSINESS_APP_ONBOARDING","data":{}}`)},
			ok:   true,
			kind: SignalFinish,
		},
		{
			name: "cancel with step",
			msg:  Message{Origin: "https://www.facebook.com", Data: `{"type":"WA_EMBEDDED_SIGNUP","event":"CANCEL","data":{"current_step":"PHONE_NUMBER_SETUP"}}`},
			ok:   true,
			kind: SignalCancel,
			expect: func(t *testing.T, sig Signal) {
				assert.Equal(t, "PHONE_NUMBER_SETUP", sig.CurrentStep)
			},
		},
		{
			name: "error event",
			msg:  Message{Origin: "https://www.facebook.com", Data: `{"type":"WA_EMBEDDED_SIGNUP","event":"error","data":{"error_message":"number already registered"}}`},
			ok:   true,
			kind: SignalError,
			expect: func(t *testing.T, sig Signal) {
				assert.Equal(t, "number already registered", sig.ErrorMessage)
			},
		},
		{
			name: "error event without message",
			msg:  Message{Origin: "https://www.facebook.com", Data: `{"type":"WA_EMBEDDED_SIGNUP","event":"ERROR"}`},
			ok:   true,
			kind: SignalError,
			expect: func(t *testing.T, sig Signal) {
				assert.NotEmpty(t, sig.ErrorMessage)
			},
		},
		{name: "untrusted origin", msg: Message{Origin: "https://example.com", Data: finishJSON}},
		{name: "lookalike origin", msg: Message{Origin: "https://evilfacebook.com", Data: finishJSON}},
		{name: "missing origin", msg: Message{Data: finishJSON}},
		{name: "not json", msg: Message{Origin: "https://www.facebook.com", Data: "hello"}},
		{name: "other type", msg: Message{Origin: "https://www.facebook.com", Data: `{"type":"SOMETHING_ELSE","event":"FINISH"}`}},
		{name: "unknown event", msg: Message{Origin: "https://www.facebook.com", Data: `{"type":"WA_EMBEDDED_SIGNUP","event":"PROGRESS"}`}},
		{name: "nil data", msg: Message{Origin: "https://www.facebook.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := ParseMessage(tt.msg, "facebook.com")
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				return
			}
			assert.Equal(t, tt.kind, sig.Kind)
			if tt.expect != nil {
				tt.expect(t, sig)
			}
		})
	}
}

func TestOriginTrusted(t *testing.T) {
	assert.True(t, originTrusted("https://www.facebook.com", ".facebook.com"))
	assert.True(t, originTrusted("www.facebook.com", "facebook.com"))
	assert.True(t, originTrusted("https://WWW.FACEBOOK.COM:443", "facebook.com"))
	assert.False(t, originTrusted("https://facebook.com.evil.io", "facebook.com"))
	assert.False(t, originTrusted("https://www.facebook.com", ""))
}

func mustQuote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
