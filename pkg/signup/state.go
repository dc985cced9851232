// Package signup runs the WhatsApp Business embedded signup handshake: a popup login
// that yields an authorization code, joined with a cross-origin message that carries
// the business account identifiers.
package signup

// Result is the completed signup: the authorization code from the login callback plus
// the identifiers from the finish message.
type Result struct {
	Code          string `json:"code"`
	WABAID        string `json:"waba_id"`
	PhoneNumberID string `json:"phone_number_id"`
	BusinessID    string `json:"business_id"`
}

// State is the join of the two partial records. Values are immutable; the With
// methods return updated copies and never clear a field that was already captured.
type State struct {
	result Result
}

// WithLogin records the login callback's authorization code.
func (s State) WithLogin(code string) State {
	if code != "" {
		s.result.Code = code
	}
	return s
}

// WithBusiness records the identifiers delivered by the finish message.
func (s State) WithBusiness(wabaID, phoneNumberID, businessID string) State {
	if wabaID != "" {
		s.result.WABAID = wabaID
	}
	if phoneNumberID != "" {
		s.result.PhoneNumberID = phoneNumberID
	}
	if businessID != "" {
		s.result.BusinessID = businessID
	}
	return s
}

func (s State) HasLogin() bool {
	return s.result.Code != ""
}

func (s State) HasBusiness() bool {
	return s.result.WABAID != "" && s.result.PhoneNumberID != "" && s.result.BusinessID != ""
}

func (s State) Result() Result {
	return s.result
}

// IsComplete reports whether all four fields are present.
func IsComplete(s State) bool {
	return s.HasLogin() && s.HasBusiness()
}
