package audit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Jyothsnapennepalli/permission-debt-app/internal/auth"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/drive"
	"github.com/Jyothsnapennepalli/permission-debt-app/internal/risk"
)

var testPrincipal = auth.Principal{ID: "uid-1", Email: "a@co.com", DisplayName: "Ada"}

// fakeProvider serves canned files and permissions and can fail per file.
type fakeProvider struct {
	mu        sync.Mutex
	files     []drive.FileRef
	perms     map[string][]drive.Permission
	permErrs  map[string]error
	listErr   error
	permCalls []string
}

func (p *fakeProvider) ListFiles(ctx context.Context, token string) ([]drive.FileRef, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.files, nil
}

func (p *fakeProvider) ListPermissions(ctx context.Context, token, fileID string) ([]drive.Permission, error) {
	p.mu.Lock()
	p.permCalls = append(p.permCalls, fileID)
	p.mu.Unlock()
	if err := p.permErrs[fileID]; err != nil {
		return nil, err
	}
	perms, ok := p.perms[fileID]
	if !ok {
		return []drive.Permission{}, nil
	}
	return perms, nil
}

// failingStore wraps MemStore and fails appends for chosen file ids.
type failingStore struct {
	*MemStore
	failFileIDs map[string]bool
}

func (s *failingStore) Append(ctx context.Context, principalID string, rec *Record) error {
	if s.failFileIDs[rec.FileID] {
		return fmt.Errorf("%w: disk full", ErrStore)
	}
	return s.MemStore.Append(ctx, principalID, rec)
}

func TestRunPublicReaderScenario(t *testing.T) {
	provider := &fakeProvider{
		files: []drive.FileRef{{ID: "f1", Name: "plan.doc"}},
		perms: map[string][]drive.Permission{
			"f1": {{Role: "reader", Type: "anyone"}},
		},
	}
	store := NewMemStore()
	runner := NewRunner(provider, store)

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Partial {
		t.Fatal("unexpected partial result")
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	rec := res.Records[0]
	if rec.RiskLevel != risk.LevelMedium {
		t.Fatalf("level = %s, want MEDIUM", rec.RiskLevel)
	}
	if !reflect.DeepEqual(rec.RiskReasons, []string{risk.ReasonPublic}) {
		t.Fatalf("reasons = %v", rec.RiskReasons)
	}
	if rec.Email != EmailUnknown {
		t.Fatalf("email = %q, want %q", rec.Email, EmailUnknown)
	}
	if res.Score != 5 {
		t.Fatalf("score = %d, want 5", res.Score)
	}

	stored, err := store.ListByPrincipal(context.Background(), testPrincipal.ID, 0)
	if err != nil {
		t.Fatalf("ListByPrincipal: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != rec.ID {
		t.Fatalf("record not persisted: %v", stored)
	}
}

func TestRunExternalWriterScenario(t *testing.T) {
	provider := &fakeProvider{
		files: []drive.FileRef{{ID: "f1", Name: "budget.xls"}},
		perms: map[string][]drive.Permission{
			"f1": {{EmailAddress: "x@other.com", Role: "writer", Type: "user"}},
		},
	}
	runner := NewRunner(provider, NewMemStore())

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	rec := res.Records[0]
	if rec.RiskLevel != risk.LevelHigh {
		t.Fatalf("level = %s, want HIGH", rec.RiskLevel)
	}
	want := []string{risk.ReasonExternal, risk.ReasonHighPrivilege}
	if !reflect.DeepEqual(rec.RiskReasons, want) {
		t.Fatalf("reasons = %v, want %v", rec.RiskReasons, want)
	}
	if res.Score != 10 {
		t.Fatalf("score = %d, want 10", res.Score)
	}
}

func TestRunSameDomainReaderIsSafe(t *testing.T) {
	provider := &fakeProvider{
		files: []drive.FileRef{{ID: "f1", Name: "notes.txt"}},
		perms: map[string][]drive.Permission{
			"f1": {{EmailAddress: "a@co.com", Role: "reader", Type: "user"}},
		},
	}
	runner := NewRunner(provider, NewMemStore())

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Records[0].RiskLevel != risk.LevelSafe {
		t.Fatalf("level = %s, want SAFE", res.Records[0].RiskLevel)
	}
	if res.Score != 0 {
		t.Fatalf("score = %d, want 0", res.Score)
	}
}

func TestRunEmptyAccount(t *testing.T) {
	runner := NewRunner(&fakeProvider{}, NewMemStore())
	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 0 || res.Score != 0 || res.Partial {
		t.Fatalf("expected clean empty result, got %+v", res)
	}
}

func TestRunOrderingPreserved(t *testing.T) {
	files := []drive.FileRef{
		{ID: "f1", Name: "one"}, {ID: "f2", Name: "two"},
		{ID: "f3", Name: "three"}, {ID: "f4", Name: "four"},
	}
	perms := map[string][]drive.Permission{}
	for _, f := range files {
		perms[f.ID] = []drive.Permission{
			{EmailAddress: "first@other.com", Role: "reader", Type: "user"},
			{EmailAddress: "second@other.com", Role: "reader", Type: "user"},
		}
	}
	provider := &fakeProvider{files: files, perms: perms}
	store := NewMemStore()
	runner := NewRunner(provider, store, WithWorkers(4))

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 8 {
		t.Fatalf("expected 8 records, got %d", len(res.Records))
	}
	// File-enumeration order, and provider order within each file, must
	// survive the fan-out.
	for i, rec := range res.Records {
		wantFile := files[i/2].Name
		if rec.FileName != wantFile {
			t.Fatalf("record %d from file %q, want %q", i, rec.FileName, wantFile)
		}
		wantEmail := "first@other.com"
		if i%2 == 1 {
			wantEmail = "second@other.com"
		}
		if rec.Email != wantEmail {
			t.Fatalf("record %d email %q, want %q", i, rec.Email, wantEmail)
		}
	}

	stored, _ := store.ListByPrincipal(context.Background(), testPrincipal.ID, 0)
	if len(stored) != 8 {
		t.Fatalf("expected 8 persisted records, got %d", len(stored))
	}
	for i := range stored {
		if stored[i].ID != res.Records[i].ID {
			t.Fatalf("persisted order diverges at %d", i)
		}
	}
}

func TestRunIsolatesPerFileFailures(t *testing.T) {
	provider := &fakeProvider{
		files: []drive.FileRef{{ID: "f1", Name: "ok"}, {ID: "f2", Name: "broken"}, {ID: "f3", Name: "also-ok"}},
		perms: map[string][]drive.Permission{
			"f1": {{Role: "reader", Type: "anyone"}},
			"f3": {{Role: "reader", Type: "anyone"}},
		},
		permErrs: map[string]error{
			"f2": fmt.Errorf("%w: list permissions: status 500", drive.ErrProvider),
		},
	}
	runner := NewRunner(provider, NewMemStore())

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("per-file failure must not abort the run: %v", err)
	}
	if !res.Partial {
		t.Fatal("expected partial result")
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records from healthy files, got %d", len(res.Records))
	}
	if len(res.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failures))
	}
	f := res.Failures[0]
	if f.Stage != "permissions" || f.FileID != "f2" {
		t.Fatalf("unexpected failure: %+v", f)
	}
	if res.Score != 10 {
		t.Fatalf("score = %d, want 10", res.Score)
	}
}

func TestRunReportsStoreFailures(t *testing.T) {
	provider := &fakeProvider{
		files: []drive.FileRef{{ID: "f1", Name: "kept"}, {ID: "f2", Name: "lost"}},
		perms: map[string][]drive.Permission{
			"f1": {{Role: "reader", Type: "anyone"}},
			"f2": {{Role: "reader", Type: "anyone"}},
		},
	}
	store := &failingStore{MemStore: NewMemStore(), failFileIDs: map[string]bool{"f2": true}}
	runner := NewRunner(provider, store)

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("store failure must not abort the run: %v", err)
	}
	if !res.Partial {
		t.Fatal("expected partial result")
	}
	if len(res.Records) != 1 || res.Records[0].FileName != "kept" {
		t.Fatalf("unexpected records: %v", res.Records)
	}
	if len(res.Failures) != 1 || res.Failures[0].Stage != "store" {
		t.Fatalf("unexpected failures: %v", res.Failures)
	}
}

func TestRunCredentialFailureSurfaces(t *testing.T) {
	provider := &fakeProvider{
		listErr: fmt.Errorf("%w: list files: status 401", drive.ErrCredential),
	}
	runner := NewRunner(provider, NewMemStore())

	res, err := runner.Run(context.Background(), testPrincipal, "expired")
	if !IsCredentialError(err) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if res == nil || !res.Partial {
		t.Fatal("expected partial result alongside the error")
	}
}

func TestRunStopsOnMidRunCredentialRejection(t *testing.T) {
	credErr := fmt.Errorf("%w: list permissions: status 401", drive.ErrCredential)
	provider := &fakeProvider{
		files: []drive.FileRef{
			{ID: "f1", Name: "plan.doc"},
			{ID: "f2", Name: "budget.xls"},
			{ID: "f3", Name: "notes.txt"},
		},
		perms: map[string][]drive.Permission{
			"f1": {{Role: "reader", Type: "anyone"}},
			"f3": {{Role: "reader", Type: "anyone"}},
		},
		permErrs: map[string]error{"f2": credErr},
	}
	store := NewMemStore()
	runner := NewRunner(provider, store)

	res, err := runner.Run(context.Background(), testPrincipal, "expired")
	if !IsCredentialError(err) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if res == nil || !res.Partial {
		t.Fatal("expected partial result alongside the error")
	}
	// The token is dead after f2; f3 must not be fetched.
	if len(provider.permCalls) != 2 {
		t.Fatalf("permission calls = %v, want f1 and f2 only", provider.permCalls)
	}
	// Work done before the rejection is kept.
	if len(res.Records) != 1 || res.Records[0].FileID != "f1" {
		t.Fatalf("records = %+v, want the one from f1", res.Records)
	}
	stored, storeErr := store.ListByPrincipal(context.Background(), testPrincipal.ID, 0)
	if storeErr != nil {
		t.Fatalf("ListByPrincipal: %v", storeErr)
	}
	if len(stored) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(stored))
	}
	if len(res.Failures) != 1 || res.Failures[0].FileID != "f2" {
		t.Fatalf("failures = %+v, want one for f2", res.Failures)
	}
}

func TestRunCancellationAtFileBoundary(t *testing.T) {
	files := make([]drive.FileRef, 20)
	perms := map[string][]drive.Permission{}
	for i := range files {
		id := fmt.Sprintf("f%d", i)
		files[i] = drive.FileRef{ID: id, Name: id}
		perms[id] = []drive.Permission{{Role: "reader", Type: "anyone"}}
	}
	provider := &fakeProvider{files: files, perms: perms}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := NewRunner(provider, NewMemStore())
	res, err := runner.Run(ctx, testPrincipal, "tok")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if res == nil || !res.Partial {
		t.Fatal("expected partial result")
	}
	provider.mu.Lock()
	calls := len(provider.permCalls)
	provider.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no permission fetches after cancellation, got %d", calls)
	}
}

func TestRunTimestampsFromClock(t *testing.T) {
	fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	provider := &fakeProvider{
		files: []drive.FileRef{{ID: "f1", Name: "plan.doc"}},
		perms: map[string][]drive.Permission{"f1": {{Role: "reader", Type: "anyone"}}},
	}
	runner := NewRunner(provider, NewMemStore(), WithClock(func() time.Time { return fixed }))

	res, err := runner.Run(context.Background(), testPrincipal, "tok")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.StartedAt.Equal(fixed) || !res.FinishedAt.Equal(fixed) {
		t.Fatalf("run not stamped with clock: %v %v", res.StartedAt, res.FinishedAt)
	}
	if !res.Records[0].Timestamp.Equal(fixed) {
		t.Fatalf("record not stamped with clock: %v", res.Records[0].Timestamp)
	}
}
