package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/config"
	"github.com/cloudkeep/drivesync/internal/driveapi"
	"github.com/cloudkeep/drivesync/internal/jobid"
	"github.com/cloudkeep/drivesync/internal/planner"
)

func TestState_TransitionPredicates(t *testing.T) {
	if !CanInitialize(StateIdle) || !CanInitialize(StateError) || !CanInitialize(StateDisabled) {
		t.Error("expected every non-executing state to allow Initializing")
	}

	if CanInitialize(StateBackingUp) || CanInitialize(StateVerifying) {
		t.Error("expected an executing state to refuse Initializing")
	}

	for _, s := range []State{StateIdle, StateError, StateCancelled} {
		if !CanRun(s) {
			t.Errorf("expected %s to allow a run trigger", s)
		}
	}

	if CanRun(StateQueued) || CanRun(StateDisabled) {
		t.Error("expected Queued/Disabled to refuse a second run trigger")
	}

	if !CanPause(StateBackingUp) || !CanPause(StateRestoring) {
		t.Error("expected BackingUp/Restoring to allow pause")
	}

	if CanPause(StateIdle) {
		t.Error("expected Idle to refuse pause")
	}
}

func TestQueue_EnqueueDedupsWaitingJob(t *testing.T) {
	q := newQueue()
	id := jobid.NewJobID("job-a")

	q.enqueue(id)
	q.enqueue(id) // restart while still waiting: must not double the queue

	done := make(chan struct{})

	got, ok := q.dequeue(done)
	if !ok || !got.Equal(id) {
		t.Fatalf("expected to dequeue %v, got %v ok=%v", id, got, ok)
	}

	q.finish(got)

	if q.isQueuedOrRunning(id) {
		t.Error("expected the queue to be empty after finish")
	}
}

func TestQueue_IsQueuedOrRunningTracksRunningSlot(t *testing.T) {
	q := newQueue()
	id := jobid.NewJobID("job-b")

	q.enqueue(id)

	done := make(chan struct{})

	got, ok := q.dequeue(done)
	if !ok || !got.Equal(id) {
		t.Fatalf("dequeue: got %v, ok=%v", got, ok)
	}

	if !q.isQueuedOrRunning(id) {
		t.Error("expected the running job to report queued-or-running")
	}

	q.finish(id)

	if q.isQueuedOrRunning(id) {
		t.Error("expected finish to clear the running slot")
	}
}

func TestQueue_DequeueUnblocksOnDone(t *testing.T) {
	q := newQueue()
	done := make(chan struct{})
	close(done)

	if _, ok := q.dequeue(done); ok {
		t.Error("expected dequeue to report !ok once done is closed with an empty queue")
	}
}

// fakeDownload records every TargetToSource action it's asked to transfer,
// standing in for internal/downloader.Downloader in verify() tests.
type fakeDownload struct {
	calls []planner.Action
}

func (f *fakeDownload) Transfer(_ context.Context, a planner.Action) error {
	f.calls = append(f.calls, a)

	return nil
}

func newRemoteServer(t *testing.T, entries map[string][]driveapi.Entry, deleted *[]string) *driveapi.Client {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/file/getByName", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": "NotFound"}) //nolint:errcheck
	})

	mux.HandleFunc("/file/list", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ParentFileID string `json:"parent_file_id"`
		}

		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck

		json.NewEncoder(w).Encode(driveapi.ListResult{Entries: entries[req.ParentFileID]}) //nolint:errcheck
	})

	mux.HandleFunc("/file/delete", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			FileID string `json:"file_id"`
		}

		json.NewDecoder(r.Body).Decode(&req) //nolint:errcheck
		*deleted = append(*deleted, req.FileID)

		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tokenSource := driveapi.FuncTokenSource(func(context.Context) (string, error) {
		return "test-token", nil
	})

	return driveapi.NewClient(srv.URL, "drive-1", srv.Client(), tokenSource, nil)
}

func TestVerify_MirrorDeletesRemoteOnlyFiles(t *testing.T) {
	entries := map[string][]driveapi.Entry{
		"": {{FileID: "stray-1", Name: "stray.txt", IsFolder: false, ContentHash: "h1"}},
	}

	var deleted []string

	client := newRemoteServer(t, entries, &deleted)

	cat := catalogue.New()
	// No local entries at all: everything the remote lists is remote-only.

	job := config.Job{SaveRoot: "", Mode: config.ModeMirror}

	totals, err := verify(context.Background(), cat, client, &fakeDownload{}, job)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if len(deleted) != 1 || deleted[0] != "stray-1" {
		t.Errorf("expected stray-1 to be deleted, got %v", deleted)
	}

	if totals.FileCount != 0 {
		t.Errorf("expected the pruned file to be excluded from totals, got FileCount=%d", totals.FileCount)
	}
}

func TestVerify_TwoWayDownloadsRemoteOnlyFiles(t *testing.T) {
	entries := map[string][]driveapi.Entry{
		"": {{FileID: "remote-1", Name: "only-remote.txt", IsFolder: false, ContentHash: "h1"}},
	}

	var deleted []string

	client := newRemoteServer(t, entries, &deleted)

	cat := catalogue.New()
	dl := &fakeDownload{}

	job := config.Job{SaveRoot: "", Mode: config.ModeTwoWay, SourceRoots: []string{"/home/user/docs"}}

	_, err := verify(context.Background(), cat, client, dl, job)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if len(deleted) != 0 {
		t.Errorf("expected two-way mode not to delete anything, got %v", deleted)
	}

	if len(dl.calls) != 1 {
		t.Fatalf("expected exactly one download call, got %d", len(dl.calls))
	}

	if dl.calls[0].Direction != planner.TargetToSource {
		t.Errorf("expected a TargetToSource action, got %v", dl.calls[0].Direction)
	}
}

func TestVerify_OneWayLeavesRemoteOnlyFilesAlone(t *testing.T) {
	entries := map[string][]driveapi.Entry{
		"": {{FileID: "remote-1", Name: "only-remote.txt", IsFolder: false, ContentHash: "h1"}},
	}

	var deleted []string

	client := newRemoteServer(t, entries, &deleted)

	cat := catalogue.New()
	dl := &fakeDownload{}

	job := config.Job{SaveRoot: "", Mode: config.ModeOneWay}

	totals, err := verify(context.Background(), cat, client, dl, job)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if len(deleted) != 0 || len(dl.calls) != 0 {
		t.Error("expected one-way mode to leave remote-only entries untouched")
	}

	if totals.FileCount != 1 {
		t.Errorf("expected the untouched remote file to still count toward totals, got %d", totals.FileCount)
	}
}

func TestVerify_SkipsFilesAlreadyPresentLocally(t *testing.T) {
	entries := map[string][]driveapi.Entry{
		"": {{FileID: "file-1", Name: "a.txt", IsFolder: false, ContentHash: "h1"}},
	}

	var deleted []string

	client := newRemoteServer(t, entries, &deleted)

	cat := catalogue.New()
	cat.PutLocal("a.txt", catalogue.LocalEntry{RelativeKey: "a.txt", IsFile: true})

	job := config.Job{SaveRoot: "", Mode: config.ModeMirror}

	totals, err := verify(context.Background(), cat, client, &fakeDownload{}, job)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if len(deleted) != 0 {
		t.Errorf("expected a file present in both trees not to be deleted, got %v", deleted)
	}

	if totals.FileCount != 1 {
		t.Errorf("expected FileCount=1, got %d", totals.FileCount)
	}
}

func TestController_RunJobRejectsUnknownJob(t *testing.T) {
	cfg := &config.Config{}
	ctl := New(cfg, nil, nil, nil)

	id := jobid.NewJobID("missing")

	if err := ctl.RunJob(id); err == nil {
		t.Error("expected RunJob against an unregistered job to fail")
	}
}

func TestController_ChangeStateRejectsUnknownJob(t *testing.T) {
	cfg := &config.Config{Jobs: map[string]config.Job{}}
	ctl := New(cfg, nil, nil, nil)

	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctl.Stop()

	// Start with zero jobs: exercise ChangeState's unknown-job path instead.
	if err := ctl.ChangeState(context.Background(), jobid.NewJobID("ghost"), StateIdle); err == nil {
		t.Error("expected ChangeState against an unregistered job to fail")
	}
}

func TestPause_RequiresExecutingState(t *testing.T) {
	cfg := &config.Config{Jobs: map[string]config.Job{"job-a": {}}}
	ctl := New(cfg, nil, nil, nil)

	// initialize will fail (no drive configured) and land the job in Error,
	// which is enough to exercise Pause's state guard without a live server.
	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctl.Stop()

	id, ok := ctl.Lookup("job-a")
	if !ok {
		t.Fatal("expected job-a to be registered")
	}

	if err := ctl.Pause(id); err == nil {
		t.Error("expected Pause to refuse a non-executing job")
	}
}

func TestController_StartLandsUnconfigurableJobInError(t *testing.T) {
	cfg := &config.Config{Jobs: map[string]config.Job{"job-a": {DriveConfigID: "missing-drive"}}}
	ctl := New(cfg, nil, nil, nil)

	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctl.Stop()

	id, ok := ctl.Lookup("job-a")
	if !ok {
		t.Fatal("expected job-a to be registered")
	}

	state, err := ctl.State(id)
	if err != nil {
		t.Fatalf("State: %v", err)
	}

	if state != StateError {
		t.Errorf("expected a job referencing an unknown drive to land in Error, got %s", state)
	}
}

func TestQueue_RepeatedEnqueueStillYieldsOneRun(t *testing.T) {
	q := newQueue()
	id := jobid.NewJobID("job-a")

	q.enqueue(id)
	q.enqueue(id)
	q.enqueue(id)

	done := make(chan struct{})

	first, ok := q.dequeue(done)
	if !ok || !first.Equal(id) {
		t.Fatalf("expected to dequeue job-a once, got %v ok=%v", first, ok)
	}

	q.finish(first)

	if q.isQueuedOrRunning(id) {
		t.Error("expected no further queued instance after a single finish")
	}
}
