package controller

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/cloudkeep/drivesync/internal/catalogue"
	"github.com/cloudkeep/drivesync/internal/config"
	"github.com/cloudkeep/drivesync/internal/cryptopipe"
	"github.com/cloudkeep/drivesync/internal/downloader"
	"github.com/cloudkeep/drivesync/internal/driveapi"
	"github.com/cloudkeep/drivesync/internal/executor"
	"github.com/cloudkeep/drivesync/internal/jobid"
	"github.com/cloudkeep/drivesync/internal/mount"
	"github.com/cloudkeep/drivesync/internal/planner"
	"github.com/cloudkeep/drivesync/internal/scanner"
	"github.com/cloudkeep/drivesync/internal/tokencache"
	"github.com/cloudkeep/drivesync/internal/uploader"
)

// rapidUploadDefault mirrors the teacher's "always attempt the cheap path
// first" stance — spec §4.9 enables rapid-upload negotiation unconditionally
// whenever size crosses its threshold; Job carries no opt-out field.
const rapidUploadDefault = true

// jobRuntime holds one job's live state: its state-machine position, its
// persistent Catalogue (kept across runs so the Watcher can update it
// between them), and the wired Transferer pair a run dispatches through.
type jobRuntime struct {
	id   jobid.JobID
	name string
	cfg  config.Job

	cat       *catalogue.Catalogue
	client    *driveapi.Client
	up        *uploader.Uploader
	down      *downloader.Downloader
	watcher   *scanner.Watcher
	cacheRoot string

	mu         sync.Mutex
	state      State
	pausedFrom State
	cancel     context.CancelFunc
	pauser     *executor.Pauser
	totals     Totals
	lastErr    error
	mountFS    *mount.FS
}

// Controller runs jobs through the spec §4.11 state machine: at most one
// job executes at a time (via the global queue), each run scans, plans,
// executes, and verifies, and a per-job filesystem Watcher keeps the
// Catalogue current between runs.
//
// Grounded on the teacher's internal/sync/orchestrator.go: that file's
// Orchestrator keeps one engineRunner per drive, built through an
// injectable engineFactory, and dispatches RunOnce work through per-drive
// goroutines with panic-isolated reporting. Controller keeps that
// "runtime struct per unit of work, built through a factory, run by a
// supervising loop" shape, but funnels every job's execution through one
// global queue instead of one goroutine per drive, since spec §4.11 caps
// concurrent execution at one job process-wide.
type Controller struct {
	cfg        *config.Config
	tokens     *tokencache.Cache
	httpClient *http.Client
	exchanger  *driveapi.TokenExchanger
	logger     *slog.Logger

	mu     sync.Mutex
	jobs   map[jobid.JobID]*jobRuntime
	byName map[string]jobid.JobID
	drives map[string]*driveapi.Client

	q        *queue
	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Controller over cfg's jobs. Start must be called before any
// job can run.
func New(cfg *config.Config, tokens *tokencache.Cache, httpClient *http.Client, logger *slog.Logger) *Controller {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		cfg:        cfg,
		tokens:     tokens,
		httpClient: httpClient,
		exchanger:  driveapi.NewTokenExchanger(httpClient),
		logger:     logger,
		jobs:       make(map[jobid.JobID]*jobRuntime),
		byName:     make(map[string]jobid.JobID),
		drives:     make(map[string]*driveapi.Client),
		q:          newQueue(),
		done:       make(chan struct{}),
	}
}

// Start registers every configured job, brings non-disabled jobs to Idle,
// starts their watchers where enabled, and launches the queue-draining run
// loop. Start must be called at most once.
func (c *Controller) Start(ctx context.Context) error {
	for name, jobCfg := range c.cfg.Jobs {
		id := jobid.NewJobID(name)

		rt := &jobRuntime{id: id, name: name, cfg: jobCfg, cat: catalogue.New(), state: StateNone}
		c.mu.Lock()
		c.jobs[id] = rt
		c.byName[name] = id
		c.mu.Unlock()

		if err := c.initialize(ctx, rt); err != nil {
			c.logger.Error("controller: initializing job failed", "job", name, "error", err)
			rt.mu.Lock()
			rt.state = StateError
			rt.lastErr = err
			rt.mu.Unlock()

			continue
		}

		rt.mu.Lock()
		rt.state = StateIdle
		rt.mu.Unlock()

		setJobState(name, StateIdle)

		if jobCfg.WatcherEnabled {
			if err := c.startWatcher(rt); err != nil {
				c.logger.Warn("controller: starting watcher failed", "job", name, "error", err)
			}
		}
	}

	go c.runLoop(ctx)

	return nil
}

// Stop halts the run loop and every job's watcher. It does not cancel an
// in-flight run; call Cancel per-job first if that is desired.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rt := range c.jobs {
		if rt.watcher != nil {
			rt.watcher.Close() //nolint:errcheck
		}
	}
}

// JobIDs returns every registered job's ID.
func (c *Controller) JobIDs() []jobid.JobID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]jobid.JobID, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}

	return ids
}

// Lookup resolves a job by its configured name.
func (c *Controller) Lookup(name string) (jobid.JobID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.byName[name]

	return id, ok
}

// State returns a job's current state.
func (c *Controller) State(id jobid.JobID) (State, error) {
	rt, err := c.runtime(id)
	if err != nil {
		return "", err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.state, nil
}

// Totals returns the most recent verification totals recorded for a job.
func (c *Controller) Totals(id jobid.JobID) (Totals, error) {
	rt, err := c.runtime(id)
	if err != nil {
		return Totals{}, err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.totals, nil
}

func (c *Controller) runtime(id jobid.JobID) (*jobRuntime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rt, ok := c.jobs[id]
	if !ok {
		return nil, fmt.Errorf("controller: unknown job %q", id)
	}

	return rt, nil
}

// ChangeState drives the non-run transitions spec §4.11 names explicitly:
// Initializing (from any non-executing state) and Disabled/re-enable.
func (c *Controller) ChangeState(ctx context.Context, id jobid.JobID, target State) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	current := rt.state
	rt.mu.Unlock()

	switch target {
	case StateInitializing:
		if !CanInitialize(current) {
			return &ErrInvalidTransition{From: current, To: target}
		}

		rt.mu.Lock()
		rt.state = StateInitializing
		rt.mu.Unlock()
		setJobState(rt.name, StateInitializing)

		if err := c.initialize(ctx, rt); err != nil {
			rt.mu.Lock()
			rt.state = StateError
			rt.lastErr = err
			rt.mu.Unlock()
			setJobState(rt.name, StateError)

			return err
		}

		rt.mu.Lock()
		rt.state = StateIdle
		rt.mu.Unlock()
		setJobState(rt.name, StateIdle)

		return nil

	case StateDisabled:
		if current.executing() {
			c.Cancel(id)
		}

		rt.mu.Lock()
		rt.state = StateDisabled
		rt.mu.Unlock()
		setJobState(rt.name, StateDisabled)

		return nil

	case StateIdle:
		if current != StateDisabled {
			return &ErrInvalidTransition{From: current, To: target}
		}

		rt.mu.Lock()
		rt.state = StateIdle
		rt.mu.Unlock()
		setJobState(rt.name, StateIdle)

		return nil

	default:
		return &ErrInvalidTransition{From: current, To: target}
	}
}

// RunJob triggers a run — spec §4.11: "Idle | Error | Cancelled → Queued
// on run trigger." If the job is already queued or running, the in-flight
// instance is canceled and the replacement is queued in its place.
func (c *Controller) RunJob(id jobid.JobID) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	current := rt.state
	cancel := rt.cancel
	rt.mu.Unlock()

	if c.q.isQueuedOrRunning(id) {
		if cancel != nil {
			cancel()
		}
	} else if !CanRun(current) {
		return &ErrInvalidTransition{From: current, To: StateQueued}
	}

	rt.mu.Lock()
	rt.state = StateQueued
	rt.mu.Unlock()
	setJobState(rt.name, StateQueued)

	queueDepth.Inc()
	c.q.enqueue(id)

	return nil
}

// Pause suspends an executing job — spec §4.11: "BackingUp | Restoring →
// Paused on pause", recording the prior executing state to resume into.
func (c *Controller) Pause(id jobid.JobID) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !CanPause(rt.state) {
		return &ErrInvalidTransition{From: rt.state, To: StatePaused}
	}

	rt.pausedFrom = rt.state
	rt.state = StatePaused

	if rt.pauser != nil {
		rt.pauser.Pause()
	}

	setJobState(rt.name, StatePaused)

	return nil
}

// Resume reverses Pause, returning the job to the state it was paused from.
func (c *Controller) Resume(id jobid.JobID) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state != StatePaused {
		return &ErrInvalidTransition{From: rt.state, To: rt.pausedFrom}
	}

	rt.state = rt.pausedFrom

	if rt.pauser != nil {
		rt.pauser.Resume()
	}

	setJobState(rt.name, rt.state)

	return nil
}

// Cancel requests cancellation of a running (or paused) job — spec §4.11:
// "→ Cancelled on a cancellation token."
func (c *Controller) Cancel(id jobid.JobID) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	cancel := rt.cancel
	if rt.state.executing() || rt.state == StatePaused {
		rt.state = StateCancelling
	}
	if rt.pauser != nil {
		rt.pauser.Resume() // unblock Wait so the canceled ctx is observed promptly
	}
	rt.mu.Unlock()

	setJobState(rt.name, StateCancelling)

	if cancel != nil {
		cancel()
	}

	return nil
}

// runLoop is the queue-draining worker: it dequeues at most one job at a
// time and runs it to completion before pulling the next.
func (c *Controller) runLoop(ctx context.Context) {
	for {
		id, ok := c.q.dequeue(c.done)
		if !ok {
			return
		}

		queueDepth.Dec()

		rt, err := c.runtime(id)
		if err != nil {
			continue
		}

		c.execute(ctx, rt)
		c.q.finish(id)
	}
}

// execute runs one job instance: scan, plan, execute, verify. It recovers
// from panics the way the teacher's orchestrator isolates per-drive work,
// reporting them as job errors instead of crashing the run loop.
func (c *Controller) execute(parent context.Context, rt *jobRuntime) {
	runCtx, cancel := context.WithCancel(parent)
	pauser := executor.NewPauser()

	rt.mu.Lock()
	rt.cancel = cancel
	rt.pauser = pauser
	rt.state = StateScanning
	rt.mu.Unlock()
	setJobState(rt.name, StateScanning)

	defer func() {
		if r := recover(); r != nil {
			rt.mu.Lock()
			rt.state = StateError
			rt.lastErr = fmt.Errorf("controller: job %q panicked: %v", rt.name, r)
			rt.mu.Unlock()
			setJobState(rt.name, StateError)
			runsTotal.WithLabelValues(rt.name, "panic").Inc()
		}

		cancel()

		rt.mu.Lock()
		rt.cancel = nil
		rt.pauser = nil
		rt.mu.Unlock()
	}()

	if err := c.runOnce(runCtx, rt, pauser); err != nil {
		rt.mu.Lock()

		if rt.state == StateQueued {
			// RunJob observed this run in flight and already restarted it —
			// the freshly queued instance owns the terminal state from here.
			rt.mu.Unlock()

			return
		}

		rt.lastErr = err

		switch {
		case runCtx.Err() != nil && rt.state == StateCancelling:
			rt.state = StateCancelled
			runsTotal.WithLabelValues(rt.name, "cancelled").Inc()
		default:
			rt.state = StateError
			runsTotal.WithLabelValues(rt.name, "error").Inc()
		}

		final := rt.state
		rt.mu.Unlock()
		setJobState(rt.name, final)
		c.logger.Error("controller: job run failed", "job", rt.name, "error", err)

		return
	}

	rt.mu.Lock()
	if rt.state == StateQueued {
		// Superseded by a restart that landed after runOnce finished but
		// before this goroutine reacquired the lock — leave it queued.
		rt.mu.Unlock()

		return
	}

	rt.state = StateIdle
	rt.lastErr = nil
	rt.mu.Unlock()
	setJobState(rt.name, StateIdle)
	runsTotal.WithLabelValues(rt.name, "success").Inc()
}

// runOnce performs one scan/plan/execute/verify pass for rt.
func (c *Controller) runOnce(ctx context.Context, rt *jobRuntime, pauser *executor.Pauser) error {
	t := startTimer(rt.name, "scan")

	sc := scanner.New(rt.cfg.ParallelismCap, rt.cfg.FollowSymlinks, c.logger)
	filter := scanner.NewFilter(rt.cfg.IgnorePatterns)

	if _, err := sc.Scan(ctx, rt.cfg.SourceRoots, filter, rt.cat); err != nil {
		t.Stop()

		return fmt.Errorf("scan: %w", err)
	}

	t.Stop()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := populateRemoteTree(ctx, rt.client, rt.cat, rt.cfg.SaveRoot); err != nil {
		return fmt.Errorf("refreshing remote tree: %w", err)
	}

	pl := &planner.Planner{
		SourceRoots:      rt.cfg.SourceRoots,
		SaveRoot:         rt.cfg.SaveRoot,
		Mode:             rt.cfg.Mode,
		CompareMethod:    rt.cfg.CompareMethod,
		DateDriftSeconds: rt.cfg.DateDriftSeconds,
		SamplingRate:     rt.cfg.SamplingRate,
		ConflictStrategy: rt.cfg.ConflictStrategy,
	}

	actions, _, err := pl.Plan(rt.cat)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	rt.mu.Lock()
	rt.state = StateBackingUp
	rt.mu.Unlock()
	setJobState(rt.name, StateBackingUp)

	t = startTimer(rt.name, "execute")

	execCfg := executor.Config{
		Parallelism:        rt.cfg.ParallelismCap,
		MaxRetries:         rt.cfg.MaxRetries,
		UseRecycleBin:      rt.cfg.UseRecycleBin,
		PreserveTimestamps: rt.cfg.PreserveTimestamps,
		ContinueOnError:    rt.cfg.ContinueOnError,
	}

	onProgress := func(p executor.Progress) {
		outcome := "ok"
		if p.Current.Error != "" {
			outcome = "failed"
		}

		actionsTotal.WithLabelValues(rt.name, string(p.Current.Variant), outcome).Inc()
	}

	ex := executor.New(execCfg, rt.cat, rt.client, rt.up, rt.down, c.logger, onProgress)

	err = ex.Run(ctx, actions, pauser)
	t.Stop()

	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	rt.mu.Lock()
	rt.state = StateVerifying
	rt.mu.Unlock()
	setJobState(rt.name, StateVerifying)

	t = startTimer(rt.name, "verify")
	totals, err := verify(ctx, rt.cat, rt.client, rt.down, rt.cfg)
	t.Stop()

	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	rt.mu.Lock()
	rt.totals = totals
	rt.mu.Unlock()

	return nil
}

// initialize resolves a job's drive client, crypto pipeline, and
// Uploader/Downloader pair — the Initializing state's work, spec §4.11.
func (c *Controller) initialize(ctx context.Context, rt *jobRuntime) error {
	client, err := c.driveClient(rt.cfg.DriveConfigID)
	if err != nil {
		return err
	}

	rt.client = client

	var pipeline *cryptopipe.Pipeline

	if rt.cfg.Crypto.Enabled {
		if !config.AllowedCompression[rt.cfg.Crypto.Compression] || !config.AllowedEncryption[rt.cfg.Crypto.Encryption] || !config.AllowedDigest[rt.cfg.Crypto.DigestAlgo] {
			return fmt.Errorf("controller: job %q: crypto algorithm not on the allow-list", rt.name)
		}

		key := sha256.Sum256([]byte(rt.cfg.Crypto.PassphrKeyID))

		pipeline, err = cryptopipe.New(cryptopipe.Algorithms{
			Compression: rt.cfg.Crypto.Compression,
			Encryption:  rt.cfg.Crypto.Encryption,
			Digest:      rt.cfg.Crypto.DigestAlgo,
		}, key)
		if err != nil {
			return fmt.Errorf("controller: job %q: building crypto pipeline: %w", rt.name, err)
		}
	}

	tokenForProof := func(ctx context.Context) (string, error) {
		return c.accessToken(ctx, rt.cfg.DriveConfigID)
	}

	rt.up = uploader.New(client, rt.cat, pipeline, rt.cfg.Crypto.EncryptNames, rapidUploadDefault, tokenForProof, c.logger)

	cacheRoot := rt.cfg.SaveRoot
	if len(rt.cfg.SourceRoots) > 0 {
		cacheRoot = rt.cfg.SourceRoots[0]
	}

	rt.cacheRoot = cacheRoot
	rt.down = downloader.New(client, rt.cat, pipeline, c.httpClient, cacheRoot, c.logger)

	return nil
}

// Mount serves rt's remote tree at mountpoint via the Mount Adapter
// (spec §4.12), refreshing the Catalogue's remote maps first so the
// mounted view starts consistent even if no sync run has happened yet.
func (c *Controller) Mount(ctx context.Context, id jobid.JobID, mountpoint string) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	if rt.client == nil {
		rt.mu.Unlock()
		return fmt.Errorf("controller: job %q is not initialized", rt.name)
	}

	if rt.mountFS != nil {
		rt.mu.Unlock()
		return fmt.Errorf("controller: job %q is already mounted", rt.name)
	}

	fsys := mount.New(rt.cat, rt.client, rt.down, rt.cacheRoot, rt.cfg.UseRecycleBin, c.logger)
	rt.mountFS = fsys
	rt.mu.Unlock()

	if err := populateRemoteTree(ctx, rt.client, rt.cat, rt.cfg.SaveRoot); err != nil {
		rt.mu.Lock()
		rt.mountFS = nil
		rt.mu.Unlock()

		return fmt.Errorf("controller: mount: populating remote tree: %w", err)
	}

	if err := fsys.Mount(mountpoint); err != nil {
		rt.mu.Lock()
		rt.mountFS = nil
		rt.mu.Unlock()

		return err
	}

	return nil
}

// Unmount tears down a job's active mount, if any.
func (c *Controller) Unmount(id jobid.JobID) error {
	rt, err := c.runtime(id)
	if err != nil {
		return err
	}

	rt.mu.Lock()
	fsys := rt.mountFS
	rt.mountFS = nil
	rt.mu.Unlock()

	if fsys == nil {
		return nil
	}

	return fsys.Unmount()
}

// driveClient returns the cached driveapi.Client for a drive config id,
// building it on first use.
func (c *Controller) driveClient(driveConfigID string) (*driveapi.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.drives[driveConfigID]; ok {
		return client, nil
	}

	drive, ok := c.cfg.Drives[driveConfigID]
	if !ok {
		return nil, fmt.Errorf("controller: unknown drive config %q", driveConfigID)
	}

	source := driveapi.FuncTokenSource(func(ctx context.Context) (string, error) {
		return c.tokens.GetAccessToken(ctx, driveConfigID, drive.BaseURL, drive.RefreshToken, c.exchanger)
	})

	client := driveapi.NewClient(drive.BaseURL, drive.DriveID, c.httpClient, source, c.logger)
	c.drives[driveConfigID] = client

	return client, nil
}

// accessToken fetches (or reuses) an access token for a drive config,
// for callers outside the TokenSource closure — the Uploader's rapid
// upload proof-code step (spec §4.9 step 5).
func (c *Controller) accessToken(ctx context.Context, driveConfigID string) (string, error) {
	c.mu.Lock()
	drive, ok := c.cfg.Drives[driveConfigID]
	c.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("controller: unknown drive config %q", driveConfigID)
	}

	return c.tokens.GetAccessToken(ctx, driveConfigID, drive.BaseURL, drive.RefreshToken, c.exchanger)
}

// startWatcher wires spec §4.11's watcher integration: fsnotify events
// update the Catalogue's local_entries/path_is_dir online, without
// forcing a rescan; hashes are recomputed lazily on next run.
func (c *Controller) startWatcher(rt *jobRuntime) error {
	w, err := scanner.NewWatcher(rt.cfg.SourceRoots, rt.cat, c.logger, func(pathKey string) {
		c.logger.Debug("controller: watcher observed change", "job", rt.name, "path", pathKey)
	})
	if err != nil {
		return err
	}

	rt.watcher = w

	return nil
}
