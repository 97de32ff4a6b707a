package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/auth"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/drive"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/ids"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/obs"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/risk"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/stream"
)

// Provider is the storage-provider surface the runner needs: file
// enumeration plus per-file permission listing.
type Provider interface {
	ListFiles(ctx context.Context, token string) ([]drive.FileRef, error)
	ListPermissions(ctx context.Context, token, fileID string) ([]drive.Permission, error)
}

// Failure records one isolated problem during a run: a file whose
// permissions could not be fetched, or a record that could not be persisted.
type Failure struct {
	Stage    string `json:"stage"` // "permissions" or "store"
	FileID   string `json:"file_id,omitempty"`
	FileName string `json:"file_name,omitempty"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error"`
}

// Result is the outcome of one audit run. Partial is set whenever any file
// or append failed, so an empty-but-failed run is distinguishable from a
// clean empty one.
type Result struct {
	RunID       string    `json:"run_id"`
	PrincipalID string    `json:"principal_id"`
	Records     []Record  `json:"records"`
	Score       int       `json:"score"`
	Failures    []Failure `json:"failures,omitempty"`
	Partial     bool      `json:"partial"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Runner drives one account audit: enumerate, fetch, classify, persist,
// aggregate. It is the single most expensive operation in the system; its
// latency scales with files x permissions-per-file.
type Runner struct {
	provider Provider
	store    Store
	events   *stream.Stream
	workers  int
	now      func() time.Time
}

// RunnerOption configures Runner behavior.
type RunnerOption func(*Runner)

// WithWorkers bounds the fan-out across files. The default of 1 keeps
// permission fetches strictly sequential.
func WithWorkers(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithEvents publishes run progress to the given stream.
func WithEvents(s *stream.Stream) RunnerOption {
	return func(r *Runner) { r.events = s }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RunnerOption {
	return func(r *Runner) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRunner constructs a Runner.
func NewRunner(provider Provider, store Store, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider: provider,
		store:    store,
		workers:  1,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// fileOutcome is the fan-out result for one enumerated file.
type fileOutcome struct {
	records []Record
	failure *Failure
	err     error
	skipped bool
}

// Run audits the principal's whole account. Records are returned and
// persisted in file-enumeration order; within a file, in provider order.
//
// Error policy: per-file provider failures and per-record store failures
// are isolated into Result.Failures and never abort the run. A rejected
// credential or a cancelled context stops the run, but whatever was already
// produced is still persisted and returned alongside the error.
func (r *Runner) Run(ctx context.Context, principal auth.Principal, token string) (*Result, error) {
	started := r.now().UTC()
	res := &Result{
		RunID:       ids.New(),
		PrincipalID: principal.ID,
		Records:     []Record{},
		StartedAt:   started,
	}

	r.publish(stream.RunEvent{Kind: stream.KindRunStarted, RunID: res.RunID, PrincipalID: principal.ID})

	files, err := r.provider.ListFiles(ctx, token)
	if err != nil {
		res.Partial = true
		r.finish(res, "failed")
		return res, err
	}

	outcomes := r.scanFiles(ctx, res.RunID, principal, token, files)

	// Fan-in happens in enumeration order regardless of worker count, so the
	// persisted trail and the returned slice keep the ordering guarantee.
	var credErr error
	for i, file := range files {
		outcome := outcomes[i]
		switch {
		case outcome.skipped:
			res.Partial = true
		case outcome.failure != nil:
			res.Partial = true
			if credErr == nil && IsCredentialError(outcome.err) {
				credErr = outcome.err
			}
			res.Failures = append(res.Failures, *outcome.failure)
			r.publish(stream.RunEvent{
				Kind: stream.KindFileFailed, RunID: res.RunID, PrincipalID: principal.ID,
				FileID: file.ID, FileName: file.Name, Detail: outcome.failure.Error,
			})
		default:
			for _, rec := range outcome.records {
				rec := rec
				if err := r.store.Append(ctx, principal.ID, &rec); err != nil {
					res.Partial = true
					res.Failures = append(res.Failures, Failure{
						Stage:    "store",
						FileID:   rec.FileID,
						FileName: rec.FileName,
						RecordID: rec.ID,
						Error:    err.Error(),
					})
					continue
				}
				res.Records = append(res.Records, rec)
				obs.CountAuditRecord(string(rec.RiskLevel))
				r.publish(stream.RunEvent{
					Kind: stream.KindRecordClassified, RunID: res.RunID, PrincipalID: principal.ID,
					FileID: rec.FileID, FileName: rec.FileName, RiskLevel: string(rec.RiskLevel),
				})
			}
			r.publish(stream.RunEvent{
				Kind: stream.KindFileScanned, RunID: res.RunID, PrincipalID: principal.ID,
				FileID: file.ID, FileName: file.Name,
			})
		}
	}

	res.Score = ScoreRecords(res.Records)

	// A rejected credential dooms every remaining request. What was already
	// produced is persisted and returned, but the run itself fails so the
	// caller can demand a fresh sign-in.
	if credErr != nil {
		r.finish(res, "failed")
		return res, credErr
	}
	if err := ctx.Err(); err != nil {
		r.finish(res, "cancelled")
		return res, err
	}
	if res.Partial {
		r.finish(res, "partial")
	} else {
		r.finish(res, "ok")
	}
	return res, nil
}

// scanFiles fetches and classifies permissions for every file through a
// bounded worker pool, indexing outcomes by enumeration position.
func (r *Runner) scanFiles(ctx context.Context, runID string, principal auth.Principal, token string, files []drive.FileRef) []fileOutcome {
	outcomes := make([]fileOutcome, len(files))
	if len(files) == 0 {
		return outcomes
	}

	type job struct {
		idx  int
		file drive.FileRef
	}
	jobs := make(chan job)

	workers := r.workers
	if workers > len(files) {
		workers = len(files)
	}

	// Once the provider rejects the credential every further request is
	// doomed, so workers stop picking up files.
	var credRejected atomic.Bool

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				// Cancellation point: one check per file boundary.
				if ctx.Err() != nil || credRejected.Load() {
					outcomes[j.idx] = fileOutcome{skipped: true}
					continue
				}
				outcome := r.scanFile(ctx, runID, principal, token, j.file)
				if IsCredentialError(outcome.err) {
					credRejected.Store(true)
				}
				outcomes[j.idx] = outcome
			}
		}()
	}
	for i, f := range files {
		jobs <- job{idx: i, file: f}
	}
	close(jobs)
	wg.Wait()
	return outcomes
}

func (r *Runner) scanFile(ctx context.Context, runID string, principal auth.Principal, token string, file drive.FileRef) fileOutcome {
	perms, err := r.provider.ListPermissions(ctx, token, file.ID)
	if err != nil {
		return fileOutcome{
			err: err,
			failure: &Failure{
				Stage:    "permissions",
				FileID:   file.ID,
				FileName: file.Name,
				Error:    err.Error(),
			},
		}
	}
	records := make([]Record, 0, len(perms))
	for _, perm := range perms {
		verdict := risk.Classify(risk.Permission{
			Email: perm.EmailAddress,
			Role:  perm.Role,
			Type:  perm.Type,
		}, principal.Email)
		rec := NewRecord(runID, file, perm, verdict, r.now().UTC())
		rec.ID = ids.New()
		records = append(records, rec)
	}
	return fileOutcome{records: records}
}

func (r *Runner) finish(res *Result, status string) {
	res.FinishedAt = r.now().UTC()
	obs.ObserveAuditRun(status, res.FinishedAt.Sub(res.StartedAt))
	r.publish(stream.RunEvent{
		Kind: stream.KindRunFinished, RunID: res.RunID, PrincipalID: res.PrincipalID,
		Score: res.Score, Detail: status,
	})
}

func (r *Runner) publish(evt stream.RunEvent) {
	if r.events != nil {
		r.events.Publish(evt)
	}
}

// ScoreRecords reduces persisted records to the account risk score.
func ScoreRecords(records []Record) int {
	levels := make([]risk.Level, len(records))
	for i, rec := range records {
		levels[i] = rec.RiskLevel
	}
	return risk.Score(levels)
}

// IsCredentialError reports whether the run failed on a rejected credential
// and the principal must sign in again.
func IsCredentialError(err error) bool {
	return errors.Is(err, drive.ErrCredential)
}
