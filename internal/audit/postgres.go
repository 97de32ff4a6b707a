package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/ids"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/risk"
)

// PGStore implements Store using PostgreSQL. Writes are plain inserts into
// an append-only table; nothing here updates or deletes rows.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// OpenPG opens a pgx-backed pool for the audit trail.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStore, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PGStore{db: db}, nil
}

// Close releases the underlying pool.
func (s *PGStore) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes.
func (s *PGStore) DB() *sql.DB { return s.db }

func (s *PGStore) Append(ctx context.Context, principalID string, rec *Record) error {
	if strings.TrimSpace(principalID) == "" || rec == nil {
		return fmt.Errorf("%w: principal id and record are required", ErrInvalidInput)
	}
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	reasons, err := json.Marshal(rec.RiskReasons)
	if err != nil {
		return fmt.Errorf("%w: encode reasons: %v", ErrStore, err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_records(
			id, principal_id, run_id, file_id, file_name,
			email, role, share_type, risk_level, risk_reasons, created_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rec.ID, principalID, rec.RunID, rec.FileID, rec.FileName,
		rec.Email, rec.Role, rec.Type, string(rec.RiskLevel), reasons, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: append: %v", ErrStore, err)
	}
	return nil
}

func (s *PGStore) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, run_id, file_id, file_name, email, role, share_type,
		       risk_level, risk_reasons, created_at
		from audit_records
		where principal_id = $1
		order by created_at asc, id asc
		limit $2
	`, principalID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStore, err)
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		var (
			rec     Record
			level   string
			reasons []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.FileID, &rec.FileName,
			&rec.Email, &rec.Role, &rec.Type, &level, &reasons, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrStore, err)
		}
		rec.RiskLevel = risk.Level(level)
		if len(reasons) > 0 {
			_ = json.Unmarshal(reasons, &rec.RiskReasons)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrStore, err)
	}
	return res, nil
}
