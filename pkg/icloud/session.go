package icloud

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Header names captured from auth responses. They double as the field names
// of the persisted session blob.
const (
	HeaderTrustToken     = "X-Apple-TwoSV-Trust-Token"
	HeaderAccountCountry = "X-Apple-ID-Account-Country"
	HeaderSCNT           = "scnt"
	HeaderSessionID      = "X-Apple-ID-Session-Id"
	HeaderSessionToken   = "X-Apple-Session-Token"

	fieldClientID = "client_id"

	// DefaultAccountCountry is used when sign-in omits the country header.
	DefaultAccountCountry = "USA"
)

// Session holds the identifying material captured during sign-in. The
// password never lands here.
type Session struct {
	ClientID       string   `json:"client_id"`
	TrustTokens    []string `json:"X-Apple-TwoSV-Trust-Token"`
	AccountCountry string   `json:"X-Apple-ID-Account-Country"`
	SCNT           string   `json:"scnt"`
	SessionID      string   `json:"X-Apple-ID-Session-Id"`
	SessionToken   string   `json:"X-Apple-Session-Token"`
}

// Serialize encodes the session as its durable JSON blob.
func (session Session) Serialize() ([]byte, error) {
	if session.TrustTokens == nil {
		session.TrustTokens = []string{}
	}
	encoded, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("icloud.session.serialize: %w", err)
	}
	return encoded, nil
}

// ParseSession decodes a blob produced by Serialize. Every field must be
// present, and the session id and token must be non-empty.
func ParseSession(blob []byte) (Session, error) {
	if _, keysErr := requireKeys(blob,
		fieldClientID,
		HeaderTrustToken,
		HeaderAccountCountry,
		HeaderSCNT,
		HeaderSessionID,
		HeaderSessionToken,
	); keysErr != nil {
		return Session{}, fmt.Errorf("icloud.session.parse: %w", sessionBlobShape(keysErr.Error()))
	}
	var session Session
	if err := json.Unmarshal(blob, &session); err != nil {
		return Session{}, fmt.Errorf("icloud.session.parse: %w", sessionBlobShape(err.Error()))
	}
	if strings.TrimSpace(session.SessionID) == "" {
		return Session{}, fmt.Errorf("icloud.session.parse: %w", sessionBlobShape("empty "+HeaderSessionID))
	}
	if strings.TrimSpace(session.SessionToken) == "" {
		return Session{}, fmt.Errorf("icloud.session.parse: %w", sessionBlobShape("empty "+HeaderSessionToken))
	}
	return session, nil
}

// ReadSessionFile parses the blob stored at path.
func ReadSessionFile(path string) (Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("icloud.session.read: %w", err)
	}
	return ParseSession(data)
}

// Trusted reports whether a trust token has been granted.
func (session Session) Trusted() bool {
	return len(session.TrustTokens) > 0
}

func (session Session) clone() Session {
	copied := session
	copied.TrustTokens = append([]string{}, session.TrustTokens...)
	return copied
}
