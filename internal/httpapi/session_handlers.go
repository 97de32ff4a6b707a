package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/auth"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/obs"
)

const defaultSessionTTL = 55 * time.Minute

type sessionRequest struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	AccessToken string `json:"access_token"`
}

type sessionResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Principal auth.Principal `json:"principal"`
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createSession(w, r)
	case http.MethodDelete:
		a.deleteSession(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

// createSession exchanges the identity provider's sign-in result (profile
// plus provider access token, both obtained by the SPA's OAuth flow) for a
// session token. The OAuth dance itself stays outside this service.
func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	principal := auth.Principal{
		ID:          strings.TrimSpace(req.ID),
		Email:       strings.TrimSpace(req.Email),
		DisplayName: strings.TrimSpace(req.DisplayName),
		PhotoURL:    strings.TrimSpace(req.PhotoURL),
	}
	if !principal.Valid() {
		writeError(w, r, http.StatusBadRequest, "id and email are required")
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		writeError(w, r, http.StatusBadRequest, "access_token is required")
		return
	}

	token, err := auth.GenerateSessionToken(principal, req.AccessToken, a.sessionTTL)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidInput) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "session creation failed")
		return
	}

	expiresAt := time.Now().UTC().Add(a.sessionTTL)
	_ = obs.LogEvent(r.Context(), "session.created", map[string]any{
		"principal_id": principal.ID,
		"expires_at":   expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Principal: principal,
	})
}

// deleteSession ends the session. Tokens are stateless so there is nothing
// to revoke server-side; the sign-out is recorded for the audit trail.
func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no active session")
		return
	}
	_ = obs.LogEvent(r.Context(), "session.deleted", map[string]any{
		"principal_id": principal.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}
