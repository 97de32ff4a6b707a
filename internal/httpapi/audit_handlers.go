package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/audit"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/auth"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/obs"
)

type listRecordsResponse struct {
	Items []audit.Record `json:"items"`
	Score int            `json:"score"`
	AsOf  time.Time      `json:"as_of"`
}

func (a *API) handleAuditRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.runner == nil {
		writeError(w, r, http.StatusServiceUnavailable, "audit runner unavailable")
		return
	}

	principal, providerToken, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no active session")
		return
	}

	res, err := a.runner.Run(r.Context(), principal, providerToken)
	if err != nil {
		// Whatever the run persisted before failing rides along in the
		// error body, so callers still see the partial trail.
		switch {
		case audit.IsCredentialError(err):
			// Provider rejected the stored access token: re-login required.
			writeErrorResult(w, r, http.StatusUnauthorized, "storage provider rejected the credential; sign in again", res)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeErrorResult(w, r, http.StatusRequestTimeout, "audit run cancelled", res)
		default:
			writeErrorResult(w, r, http.StatusBadGateway, "audit run failed: "+err.Error(), res)
		}
		return
	}

	_ = obs.LogEvent(r.Context(), "audit.run.finished", map[string]any{
		"run_id":   res.RunID,
		"records":  len(res.Records),
		"failures": len(res.Failures),
		"partial":  res.Partial,
		"score":    res.Score,
	})

	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleAuditRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no active session")
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.store.ListByPrincipal(r.Context(), principal.ID, limit)
	if err != nil {
		handleAuditError(w, r, err)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}

	writeJSON(w, http.StatusOK, listRecordsResponse{
		Items: records,
		Score: audit.ScoreRecords(records),
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handleAuditScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no active session")
		return
	}

	records, err := a.store.ListByPrincipal(r.Context(), principal.ID, 0)
	if err != nil {
		handleAuditError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"score": audit.ScoreRecords(records),
		"as_of": time.Now().UTC(),
	})
}

func sessionFromContext(ctx context.Context) (auth.Principal, string, bool) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, "", false
	}
	token, ok := auth.ProviderTokenFromContext(ctx)
	if !ok {
		return auth.Principal{}, "", false
	}
	return principal, token, true
}

func handleAuditError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, audit.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, audit.ErrStore):
		writeError(w, r, http.StatusServiceUnavailable, "audit store unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
