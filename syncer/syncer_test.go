package syncer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gifconv/cluster"
	"gifconv/config"
	"gifconv/dispatch"
	"gifconv/models"
	"gifconv/store"
)

type fakeClusterAPI struct {
	statuses map[string]cluster.JobStatus
	errs     map[string]error
}

func (f *fakeClusterAPI) FetchJobStatus(_ context.Context, jobName string) (cluster.JobStatus, error) {
	if err, ok := f.errs[jobName]; ok {
		return cluster.JobStatus{}, err
	}
	return f.statuses[jobName], nil
}

type fakeIssuer struct {
	err   error
	calls int
}

func (f *fakeIssuer) SignedURL(key string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "https://media.example.com/" + key + "?signed=1", nil
}

func runningJob(t *testing.T, s store.Store, id string) {
	t.Helper()
	ctx := context.Background()
	err := s.Create(ctx, models.JobRecord{
		ID:        id,
		Status:    models.StatusPending,
		SourceKey: "uploads/" + id + ".mp4",
		TargetKey: "gifs/" + id + ".gif",
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	running := models.StatusRunning
	name := cluster.JobName(id)
	if _, err := s.Update(ctx, id, store.Update{Status: &running, ClusterJobName: &name}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func get(t *testing.T, s store.Store, id string) models.JobRecord {
	t.Helper()
	records, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, record := range records {
		if record.ID == id {
			return record
		}
	}
	t.Fatalf("job %s not found", id)
	return models.JobRecord{}
}

func newSyncer(s store.Store, api ClusterAPI, issuer URLIssuer) *Syncer {
	return NewSyncer(s, api, issuer, nil, time.Second)
}

func TestReconcileSuccessTakesPrecedenceOverFailure(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "a")

	api := &fakeClusterAPI{statuses: map[string]cluster.JobStatus{
		"gifconv-a": {Succeeded: 1, Failed: 1},
	}}
	issuer := &fakeIssuer{}

	newSyncer(s, api, issuer).Reconcile(context.Background(), mustList(t, s))

	got := get(t, s, "a")
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.DownloadURL == "" {
		t.Fatal("expected a download url on completion")
	}
}

func TestReconcileMapsFailureWithBoundedMessage(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "a")

	api := &fakeClusterAPI{statuses: map[string]cluster.JobStatus{
		"gifconv-a": {
			Failed: 1,
			Conditions: []cluster.JobCondition{{
				Type:    "Failed",
				Status:  "True",
				Reason:  "BackoffLimitExceeded",
				Message: strings.Repeat("x", 600),
			}},
		},
	}}

	newSyncer(s, api, &fakeIssuer{}).Reconcile(context.Background(), mustList(t, s))

	got := get(t, s, "a")
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.HasPrefix(got.ErrorMessage, "BackoffLimitExceeded: ") {
		t.Fatalf("message lacks condition reason: %q", got.ErrorMessage)
	}
	if len(got.ErrorMessage) != 500 {
		t.Fatalf("message not bounded to 500, got %d", len(got.ErrorMessage))
	}
	if !strings.HasSuffix(got.ErrorMessage, "...") {
		t.Fatalf("truncated message lacks marker: %q", got.ErrorMessage)
	}
}

func TestReconcileLeavesQuietJobsAlone(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "a")

	// No counters, no conditions: the cluster has nothing to report yet.
	api := &fakeClusterAPI{statuses: map[string]cluster.JobStatus{"gifconv-a": {}}}

	newSyncer(s, api, &fakeIssuer{}).Reconcile(context.Background(), mustList(t, s))

	if got := get(t, s, "a"); got.Status != models.StatusRunning {
		t.Fatalf("status changed without a signal: %s", got.Status)
	}
}

func TestReconcileIsolatesPerJobFailures(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "broken")
	runningJob(t, s, "fine")

	api := &fakeClusterAPI{
		statuses: map[string]cluster.JobStatus{
			"gifconv-fine": {Succeeded: 1},
		},
		errs: map[string]error{
			"gifconv-broken": errors.New("cluster job status query failed: 500"),
		},
	}

	newSyncer(s, api, &fakeIssuer{}).Reconcile(context.Background(), mustList(t, s))

	if got := get(t, s, "fine"); got.Status != models.StatusCompleted {
		t.Fatalf("sibling job not reconciled: %s", got.Status)
	}
	if got := get(t, s, "broken"); got.Status != models.StatusRunning {
		t.Fatalf("failing job mutated: %s", got.Status)
	}
}

func TestReconcileSkipsTerminalAndUnhandledJobs(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	// Settled job: completed with its URL already issued.
	runningJob(t, s, "done")
	completed := models.StatusCompleted
	url := "https://media.example.com/gifs/done.gif"
	if _, err := s.Update(ctx, "done", store.Update{Status: &completed, DownloadURL: &url}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Failed job: terminal, nothing left to do.
	runningJob(t, s, "dead")
	failed := models.StatusFailed
	if _, err := s.Update(ctx, "dead", store.Update{Status: &failed}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// Pending job without a cluster handle: not yet dispatched.
	if err := s.Create(ctx, models.JobRecord{ID: "undispatched", Status: models.StatusPending}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	api := &fakeClusterAPI{errs: map[string]error{
		"gifconv-done":         errors.New("should not be queried"),
		"gifconv-dead":         errors.New("should not be queried"),
		"gifconv-undispatched": errors.New("should not be queried"),
	}}
	issuer := &fakeIssuer{err: errors.New("should not be asked")}

	newSyncer(s, api, issuer).Reconcile(ctx, mustList(t, s))

	if got := get(t, s, "done"); got.Status != models.StatusCompleted {
		t.Fatalf("terminal job mutated: %s", got.Status)
	}
	if got := get(t, s, "dead"); got.Status != models.StatusFailed {
		t.Fatalf("failed job mutated: %s", got.Status)
	}
	if got := get(t, s, "undispatched"); got.Status != models.StatusPending {
		t.Fatalf("undispatched job mutated: %s", got.Status)
	}
	if issuer.calls != 0 {
		t.Fatalf("issuer called %d times for settled jobs", issuer.calls)
	}
}

func TestReconcileRecordsCompletionEvenWhenURLIssuanceFails(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "a")

	api := &fakeClusterAPI{statuses: map[string]cluster.JobStatus{
		"gifconv-a": {Succeeded: 1},
	}}
	issuer := &fakeIssuer{err: errors.New("presign failed")}

	newSyncer(s, api, issuer).Reconcile(context.Background(), mustList(t, s))

	got := get(t, s, "a")
	if got.Status != models.StatusCompleted {
		t.Fatalf("completion dropped on url failure: %s", got.Status)
	}
	if got.DownloadURL != "" {
		t.Fatalf("unexpected download url: %s", got.DownloadURL)
	}

	// The next cycle retries the URL without asking the cluster again.
	issuer.err = nil
	quiet := &fakeClusterAPI{errs: map[string]error{
		"gifconv-a": errors.New("should not be queried"),
	}}
	newSyncer(s, quiet, issuer).Reconcile(context.Background(), mustList(t, s))

	got = get(t, s, "a")
	if got.DownloadURL == "" {
		t.Fatal("download url not issued on retry")
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("status changed during url retry: %s", got.Status)
	}
}

func TestReconcileDoesNotReissueExistingURL(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "a")
	ctx := context.Background()

	completed := models.StatusCompleted
	url := "https://media.example.com/gifs/a.gif"
	if _, err := s.Update(ctx, "a", store.Update{Status: &completed, DownloadURL: &url}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	issuer := &fakeIssuer{}
	api := &fakeClusterAPI{statuses: map[string]cluster.JobStatus{"gifconv-a": {Succeeded: 1}}}
	newSyncer(s, api, issuer).Reconcile(ctx, mustList(t, s))

	if issuer.calls != 0 {
		t.Fatalf("issuer called %d times for a job with a url", issuer.calls)
	}
}

func TestDeriveStatusActiveMeansRunning(t *testing.T) {
	t.Parallel()

	job := models.JobRecord{ID: "a", Status: models.StatusPending}
	status, _, changed := deriveStatus(job, cluster.JobStatus{Active: 1})
	if !changed || status != models.StatusRunning {
		t.Fatalf("expected running transition, got %s changed=%v", status, changed)
	}

	job.Status = models.StatusRunning
	if _, _, changed := deriveStatus(job, cluster.JobStatus{Active: 1}); changed {
		t.Fatal("running job re-reported as running must be a no-op")
	}
}

type deadlineRecordingAPI struct {
	hadDeadline bool
}

func (a *deadlineRecordingAPI) FetchJobStatus(ctx context.Context, _ string) (cluster.JobStatus, error) {
	_, a.hadDeadline = ctx.Deadline()
	return cluster.JobStatus{Active: 1}, nil
}

func TestReconcileBoundsPerJobWork(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	runningJob(t, s, "a")

	api := &deadlineRecordingAPI{}
	newSyncer(s, api, &fakeIssuer{}).Reconcile(context.Background(), mustList(t, s))

	if !api.hadDeadline {
		t.Fatal("cluster query context carries no deadline")
	}
}

type stubCreator struct{}

func (stubCreator) CreateJob(_ context.Context, params cluster.CreateJobParams) (string, error) {
	return cluster.JobName(params.JobID), nil
}

func TestDispatchThenPollCompletesJobEndToEnd(t *testing.T) {
	t.Parallel()

	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.Create(ctx, models.JobRecord{
		ID:        "e2e",
		Status:    models.StatusPending,
		SourceKey: "uploads/e2e.mp4",
		TargetKey: "gifs/e2e.gif",
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	d := dispatch.NewDispatcher(s, stubCreator{}, &config.Config{
		PublicBaseURL:   "https://frontend.example.com",
		ClusterEndpoint: "https://cci.example.com",
		ProjectID:       "p",
		AccessKey:       "ak",
		SecretKey:       "sk",
		JobImage:        "img",
	})
	if _, err := d.Dispatch(ctx, "e2e", "uploads/e2e.mp4", "gifs/e2e.gif", ""); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	got := get(t, s, "e2e")
	if got.Status != models.StatusRunning || got.ClusterJobName == "" {
		t.Fatalf("job not running after dispatch: %+v", got)
	}

	api := &fakeClusterAPI{statuses: map[string]cluster.JobStatus{
		got.ClusterJobName: {Active: 0, Succeeded: 1},
	}}
	newSyncer(s, api, &fakeIssuer{}).Reconcile(ctx, mustList(t, s))

	got = get(t, s, "e2e")
	if got.Status != models.StatusCompleted {
		t.Fatalf("job not completed after poll: %s", got.Status)
	}
	if got.DownloadURL == "" {
		t.Fatal("completed job lacks a download url")
	}
}

func mustList(t *testing.T, s store.Store) []models.JobRecord {
	t.Helper()
	records, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	return records
}
