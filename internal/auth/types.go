package auth

import "strings"

// Principal is the authenticated account on whose behalf an audit runs.
// Created at sign-in from the identity provider's profile, discarded at
// sign-out. The provider access token travels separately (see context.go);
// it is read-only shared state for the duration of a run.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Domain returns the substring of the principal's email after the last "@",
// or "" when the email carries none.
func (p Principal) Domain() string {
	idx := strings.LastIndex(p.Email, "@")
	if idx < 0 || idx == len(p.Email)-1 {
		return ""
	}
	return p.Email[idx+1:]
}

// Valid reports whether the principal carries the fields the pipeline needs.
func (p Principal) Valid() bool {
	return strings.TrimSpace(p.ID) != "" && strings.Contains(p.Email, "@")
}
