package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/caam1406/clawdesk/pkg/signup"
)

// handleSignupStart launches a handshake on POST /api/v1/signup.
func (s *Server) handleSignupStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.signups.Start(r.Context())
	if err != nil {
		writeJSONStatus(w, signupErrorStatus(err), map[string]interface{}{
			"session": publicSnapshot(snap),
			"error":   err.Error(),
		})
		return
	}
	writeJSONStatus(w, http.StatusCreated, publicSnapshot(snap))
}

// handleSignupDetail serves /api/v1/signup/{id} and /api/v1/signup/{id}/login.
func (s *Server) handleSignupDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/signup/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		snap, ok := s.signups.Get(r.Context(), id)
		if !ok {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, publicSnapshot(snap))

	case rest == "" && r.Method == http.MethodDelete:
		if !s.signups.Close(r.Context(), id) {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]string{"status": "closed"})

	case rest == "login" && r.Method == http.MethodPost:
		var body signup.LoginResponse
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		if !s.deliverLogin(id, body.Status, body.Code) {
			http.Error(w, `{"error":"no login pending for session"}`, http.StatusNotFound)
			return
		}
		snap, _ := s.signups.Get(r.Context(), id)
		writeJSON(w, publicSnapshot(snap))

	case rest == "" || rest == "login":
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)

	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

// handleSignupMessage relays a message event captured by the browser on
// POST /api/v1/signup/messages.
func (s *Server) handleSignupMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Origin string          `json:"origin"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]int{"delivered": s.dispatchSignupMessage(body.Origin, body.Data)})
}

func (s *Server) dispatchSignupMessage(origin string, data json.RawMessage) int {
	if len(data) == 0 {
		return 0
	}
	return s.relay.Dispatch(signup.Message{Origin: origin, Data: data})
}

func (s *Server) deliverLogin(sessionID, status, code string) bool {
	if sessionID == "" {
		return false
	}
	return s.bridge.Deliver(sessionID, signup.LoginResponse{Status: status, Code: code})
}

// publicSnapshot strips the authorization code, which only leaves the process
// through the account store.
func publicSnapshot(snap signup.Snapshot) signup.Snapshot {
	snap.Result.Code = ""
	return snap
}

func signupErrorStatus(err error) int {
	switch {
	case errors.Is(err, signup.ErrPopupBlocked):
		return http.StatusConflict
	case errors.Is(err, signup.ErrMissingConfig), errors.Is(err, signup.ErrSDKUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
