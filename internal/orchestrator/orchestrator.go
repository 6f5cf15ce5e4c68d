package orchestrator

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"gpurent/internal/archive"
	"gpurent/internal/lifecycle"
	"gpurent/internal/marketplace"
	"gpurent/internal/metric"
	"gpurent/internal/remote"
	"gpurent/internal/runlog"
)

// State of the run state machine. Every transition is recorded in the run
// trace and mirrored into the active-instance registry before the
// corresponding provider call returns.
type State string

const (
	StateSearching        State = "Searching"
	StateReserving        State = "Reserving"
	StateAwaitingReady    State = "AwaitingReady"
	StateExecuting        State = "Executing"
	StateRetrieving       State = "Retrieving"
	StateDestroying       State = "Destroying"
	StateDone             State = "Done"
	StateEmergencyStopped State = "EmergencyStopped"
)

const (
	OutcomeSucceeded        = "succeeded"
	OutcomePartial          = "partial"
	OutcomeFailed           = "failed"
	OutcomeReadyTimeout     = "ready-timeout"
	OutcomeCancelled        = "cancelled"
	OutcomeEmergencyStopped = "emergency-stopped"
	OutcomeNoOffer          = "no-offer"
)

var (
	// ErrNoOfferFound terminates a run before anything was reserved; no
	// cleanup is needed.
	ErrNoOfferFound = stderrors.New("no offer matches the search filter")

	// ErrRemoteExecution marks a run whose workload exited non-zero.
	// Artifacts are still retrieved.
	ErrRemoteExecution = stderrors.New("remote execution failed")
)

// Session is the slice of remote.Session the orchestrator needs, split out so
// runs can be driven against a fake transport in tests.
type Session interface {
	UploadBundle(ctx context.Context, paths []string, remoteDir string) error
	Execute(ctx context.Context, command string, sink io.Writer, timeout time.Duration) (int, error)
	DownloadArtifacts(ctx context.Context, remotePaths []string, localDir string) (remote.Artifacts, error)
	ListRemote(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, endpoint marketplace.Endpoint) (Session, error)
}

// SSHDialer dials real instances over SSH.
type SSHDialer struct {
	Credential remote.Credential
	Options    remote.ConnectOptions
}

func (d SSHDialer) Dial(ctx context.Context, endpoint marketplace.Endpoint) (Session, error) {
	return remote.Connect(ctx, endpoint, d.Credential, d.Options)
}

// Workload builds the opaque remote command for a run.
type Workload interface {
	Command(remoteDir, outputDir string) string
	BundlePaths() []string
}

// Options tunes a single run.
type Options struct {
	Image             string
	DiskSizeGb        int
	Label             string
	KeepInstance      bool
	PreserveOnFailure bool
	ReadyTimeout      time.Duration
	ExecTimeout       time.Duration
	RemoteDir         string
	RemoteOutputDir   string
	LocalDest         string
	ArchivePrefix     string
	Sink              io.Writer
}

func (o *Options) defaults() {
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = 5 * time.Minute
	}
	if o.RemoteDir == "" {
		o.RemoteDir = "/workspace"
	}
	if o.RemoteOutputDir == "" {
		o.RemoteOutputDir = "/workspace/output"
	}
	if o.LocalDest == "" {
		o.LocalDest = "output"
	}
	if o.Sink == nil {
		o.Sink = io.Discard
	}
}

// RunResult reports the terminal state of a run, always including the last
// known instance id and whether it was destroyed, so billing state can be
// verified manually.
type RunResult struct {
	InstanceID   int
	GPUName      string
	PricePerHour float64
	ExitCode     int
	Elapsed      time.Duration
	Artifacts    remote.Artifacts
	Destroyed    bool
	Preserved    bool
	Outcome      string
	Trace        []State
}

// Orchestrator drives search, reservation, execution, retrieval and teardown.
// It is the sole coordinator: lifecycle and remote session never call each
// other, so every partial-failure decision lives here.
type Orchestrator struct {
	client    marketplace.Client
	lifecycle *lifecycle.Manager
	dialer    Dialer
	runLog    *runlog.Store
	metrics   metric.Client
	bucket    archive.Bucket
}

func New(client marketplace.Client, lc *lifecycle.Manager, dialer Dialer) *Orchestrator {
	return &Orchestrator{
		client:    client,
		lifecycle: lc,
		dialer:    dialer,
		metrics:   &metric.Null{},
	}
}

// WithRunLog records every finished run in the append-only run log.
func (o *Orchestrator) WithRunLog(store *runlog.Store) *Orchestrator {
	o.runLog = store
	return o
}

func (o *Orchestrator) WithMetrics(client metric.Client) *Orchestrator {
	o.metrics = client
	return o
}

// WithArchive copies retrieved artifacts into durable storage after a run.
func (o *Orchestrator) WithArchive(bucket archive.Bucket) *Orchestrator {
	o.bucket = bucket
	return o
}

// Startup reconciles the registry against the provider listing, so a prior
// crashed run never leaves local belief out of sync with real billing state.
func (o *Orchestrator) Startup(ctx context.Context) error {
	return o.lifecycle.Sync(ctx)
}

func (o *Orchestrator) to(result *RunResult, state State) {
	result.Trace = append(result.Trace, state)
	log.WithField("state", state).Debug("state transition")
}

// teardownCtx returns a context independent of the run's own: teardown must
// proceed exactly when the run context was cancelled.
func teardownCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
