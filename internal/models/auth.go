package models

import "time"

// RemoteAuthMethod mirrors a backend auth method record. Active and Metadata
// are backend-authoritative; only Value is ever written by sync.
type RemoteAuthMethod struct {
	ID        int64                  `json:"id"`
	UserID    int64                  `json:"userId,omitempty"`
	Platform  Platform               `json:"platform"`
	Value     string                 `json:"value"`
	Active    bool                   `json:"active"`
	CreatedAt int64                  `json:"createdAt"` // epoch milliseconds
	UpdatedAt int64                  `json:"updatedAt"` // epoch milliseconds
	Metadata  map[string]interface{} `json:"metadata"`
}

// Nickname returns the metadata nickname if the backend set one
func (m *RemoteAuthMethod) Nickname() string {
	if m.Metadata == nil {
		return ""
	}
	if s, ok := m.Metadata["nickname"].(string); ok {
		return s
	}
	return ""
}

// Created returns CreatedAt as a time
func (m *RemoteAuthMethod) Created() time.Time {
	return time.UnixMilli(m.CreatedAt)
}

// Updated returns UpdatedAt as a time
func (m *RemoteAuthMethod) Updated() time.Time {
	return time.UnixMilli(m.UpdatedAt)
}

// CommonResponse is the backend's response envelope
type CommonResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SessionUser is the authenticated backend user
type SessionUser struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Session is the backend session. It is valid only with a populated user email.
type Session struct {
	User *SessionUser `json:"user"`
}

// Valid reports whether the session identifies a user
func (s *Session) Valid() bool {
	return s != nil && s.User != nil && s.User.Email != ""
}

// LoginCredentials are submitted to the backend credentials callback
type LoginCredentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LinkState maps each linked platform to the remote auth method id it syncs into
type LinkState map[Platform]int64
