package bus

// Event types published to observers.
const (
	TypeInbound        = "inbound"
	TypeStreamStatus   = "stream_status"
	TypeStreamMessage  = "stream_message"
	TypeStreamChunk    = "stream_chunk"
	TypeStreamComplete = "stream_complete"
	TypeStreamError    = "stream_error"
	TypeSignupLaunch   = "signup_launch"
	TypeSignupState    = "signup_state"
)

// Inbound kinds.
const (
	KindMessage = "message"
	KindEdit    = "edit"
)

// InboundMessage is work for the agent loop: a user message for a conversation or an
// edit instruction for an agent.
type InboundMessage struct {
	Kind           string `json:"kind"`
	ConversationID string `json:"conversation_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Content        string `json:"content"`
	Source         string `json:"source,omitempty"` // "ws", "api", "cli"
}

// StreamUpdate mirrors one callback of an upstream event stream.
type StreamUpdate struct {
	ConversationID string `json:"conversation_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Status         string `json:"status,omitempty"`
	Role           string `json:"role,omitempty"`
	Content        string `json:"content,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SignupLaunch asks a connected browser to open the login popup.
type SignupLaunch struct {
	SessionID                   string                 `json:"session_id"`
	AppID                       string                 `json:"app_id"`
	GraphVersion                string                 `json:"graph_version"`
	ConfigID                    string                 `json:"config_id"`
	ResponseType                string                 `json:"response_type"`
	OverrideDefaultResponseType bool                   `json:"override_default_response_type"`
	Extras                      map[string]interface{} `json:"extras,omitempty"`
}

// SignupState reports a handshake transition.
type SignupState struct {
	SessionID     string `json:"session_id"`
	Phase         string `json:"phase"`
	HasLogin      bool   `json:"has_login"`
	HasBusiness   bool   `json:"has_business"`
	WABAID        string `json:"waba_id,omitempty"`
	PhoneNumberID string `json:"phone_number_id,omitempty"`
	BusinessID    string `json:"business_id,omitempty"`
	Error         string `json:"error,omitempty"`
}
