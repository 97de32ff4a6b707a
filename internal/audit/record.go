package audit

import (
	"context"
	"errors"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/drive"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/risk"
)

var (
	// ErrStore wraps persistence failures so callers can tell them apart
	// from provider failures.
	ErrStore = errors.New("audit: store failure")

	ErrInvalidInput = errors.New("audit: invalid input")
)

// EmailUnknown is recorded when a permission carries no grantee email
// (domain-wide and anyone-type shares).
const EmailUnknown = "N/A"

// Record is the durable, immutable result of classifying one permission on
// one file during one run. Records are never updated or deleted here;
// retention is out of scope.
type Record struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	FileID      string     `json:"file_id"`
	FileName    string     `json:"file_name"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Type        string     `json:"type"`
	RiskLevel   risk.Level `json:"risk_level"`
	RiskReasons []string   `json:"risk_reasons"`
	Timestamp   time.Time  `json:"timestamp"`
}

// NewRecord builds one audit record from a raw permission and its verdict.
func NewRecord(runID string, file drive.FileRef, perm drive.Permission, verdict risk.Verdict, ts time.Time) Record {
	email := perm.EmailAddress
	if email == "" {
		email = EmailUnknown
	}
	return Record{
		RunID:       runID,
		FileID:      file.ID,
		FileName:    file.Name,
		Email:       email,
		Role:        perm.Role,
		Type:        perm.Type,
		RiskLevel:   verdict.Level,
		RiskReasons: verdict.Reasons,
		Timestamp:   ts,
	}
}

// Store persists audit records under a principal's namespace. The write path
// is append-only: no update or delete is exposed, and each append is an
// independent write with no cross-record transaction. ListByPrincipal exists
// for the presentation surface only.
type Store interface {
	Append(ctx context.Context, principalID string, rec *Record) error
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]Record, error)
}
