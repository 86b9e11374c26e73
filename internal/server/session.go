package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"

	"projectbrowser/internal/logging"
)

const (
	sessionName    = "projectbrowser-session"
	unlockTokenKey = "unlock_token"
	flashStatus    = "status"
	flashError     = "error"
)

// Message is a flash message shown once to the user
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) session(r *http.Request) *sessions.Session {
	session, err := s.sessionStore.Get(r, sessionName)
	if err != nil {
		// A cookie signed with an old key; Get still returns a fresh session.
		logging.Debugf("Discarding unreadable session: %v", err)
	}
	return session
}

// unlockToken returns the session's unlock token, creating one if needed
func (s *Server) unlockToken(w http.ResponseWriter, r *http.Request) string {
	session := s.session(r)
	if token, ok := session.Values[unlockTokenKey].(string); ok && token != "" {
		return token
	}
	token := uuid.NewString()
	session.Values[unlockTokenKey] = token
	if err := session.Save(r, w); err != nil {
		logging.Errorf("Failed to save session: %v", err)
	}
	return token
}

func (s *Server) validUnlockToken(r *http.Request, token string) bool {
	want, ok := s.session(r).Values[unlockTokenKey].(string)
	if !ok || want == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}

func (s *Server) addFlash(w http.ResponseWriter, r *http.Request, kind, text string) {
	session := s.session(r)
	session.AddFlash(text, kind)
	if err := session.Save(r, w); err != nil {
		logging.Errorf("Failed to save session: %v", err)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	session := s.session(r)
	messages := []Message{}
	for _, kind := range []string{flashError, flashStatus} {
		for _, f := range session.Flashes(kind) {
			if text, ok := f.(string); ok {
				messages = append(messages, Message{Type: kind, Text: text})
			}
		}
	}
	if err := session.Save(r, w); err != nil {
		logging.Errorf("Failed to save session: %v", err)
	}
	writeJSON(w, http.StatusOK, messages)
}
