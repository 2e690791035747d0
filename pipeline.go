// Package pipeline sequences the two verification tiers for the
// driftsync client library: the offline matrix first, then, only on
// full offline success, the credential-gated online matrix against
// live accounts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/sync-acceptor/broker"
	"github.com/driftsync/sync-acceptor/exitcodes"
	"github.com/driftsync/sync-acceptor/flags"
	"github.com/driftsync/sync-acceptor/logging"
	"github.com/driftsync/sync-acceptor/matrix"
	"github.com/driftsync/sync-acceptor/metrics"
	"github.com/driftsync/sync-acceptor/publisher"
	"github.com/driftsync/sync-acceptor/runner"
	"github.com/driftsync/sync-acceptor/secrets"
	"github.com/driftsync/sync-acceptor/trigger"
	"github.com/driftsync/sync-acceptor/types"
)

// State names the controller's position in the tier sequence. States
// are logged for operators; Halted and OnlineDone are terminal.
type State string

const (
	StateStart          State = "start"
	StateOfflineRunning State = "offline-running"
	StateOfflineDone    State = "offline-done"
	StateOnlineRunning  State = "online-running"
	StateOnlineDone     State = "online-done"
	StateHalted         State = "halted"
)

// Pipeline orchestrates matrix expansion, lane execution, token
// acquisition, and coverage publishing for both tiers.
type Pipeline struct {
	ctx       context.Context
	config    *Config
	version   string
	def       *matrix.Definition
	vault     *logging.Vault
	broker    *broker.Broker // nil when the definition has no online tier
	runner    *runner.Runner
	publisher *publisher.Publisher
	filter    *trigger.PathFilter
	scheduler *Scheduler

	running atomic.Bool
	mu      sync.Mutex // guards result
	result  *types.PipelineResult

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New wires the pipeline from configuration. The token broker is only
// constructed when the definition declares an online tier.
func New(ctx context.Context, config *Config, version string, vault *logging.Vault, shutdownCallback func(error)) (*Pipeline, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating pipeline with config",
		"definition", config.DefinitionPath,
		"workDir", config.WorkDir,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	def, err := matrix.LoadDefinition(config.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline definition: %w", err)
	}

	laneRunner, err := runner.New(runner.Config{
		WorkDir:     config.WorkDir,
		CoverageDir: config.CoverageDir,
		LaneTimeout: config.LaneTimeout,
		Log:         config.Log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lane runner: %w", err)
	}

	p := &Pipeline{
		ctx:              ctx,
		config:           config,
		version:          version,
		def:              def,
		vault:            vault,
		runner:           laneRunner,
		filter:           trigger.NewPathFilter(config.TriggerPatterns),
		scheduler:        NewScheduler(config.RunInterval, config.RunOnce, config.Log),
		shutdownCallback: shutdownCallback,
	}

	if def.Online != nil {
		store, err := newSecretStore(config, vault)
		if err != nil {
			return nil, err
		}
		p.broker, err = broker.New(broker.Config{
			TokenURL: config.TokenURL,
			ClientID: config.ClientID,
		}, store, vault, config.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to create token broker: %w", err)
		}
	}

	pub, err := newPublisher(config)
	if err != nil {
		return nil, err
	}
	p.publisher = pub

	config.Log.Info("pipeline.New: created runner, broker and publisher",
		"onlineTier", def.Online != nil)
	return p, nil
}

// slotSecretPrefix prefixes the environment variables the env secret
// store resolves slots against, e.g. SYNC_ACCEPTOR_SLOT_CI_PRIMARY.
const slotSecretPrefix = flags.EnvVarPrefix + "_SLOT"

func newSecretStore(config *Config, vault *logging.Vault) (secrets.Store, error) {
	switch config.SecretsBackend {
	case SecretsBackendDir:
		return secrets.NewFileStore(config.SecretsDir, vault), nil
	case SecretsBackendEnv:
		return secrets.NewEnvStore(slotSecretPrefix, vault), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", config.SecretsBackend)
	}
}

func newPublisher(config *Config) (*publisher.Publisher, error) {
	cfg := publisher.Config{
		Endpoint: config.PublishEndpoint,
		Log:      config.Log,
	}
	if config.ArtifactEndpoint != "" {
		sink, err := publisher.NewS3Sink(publisher.S3Config{
			Endpoint:  config.ArtifactEndpoint,
			Bucket:    config.ArtifactBucket,
			AccessKey: os.Getenv(flags.EnvVarPrefix + "_ARTIFACT_ACCESS_KEY"),
			SecretKey: os.Getenv(flags.EnvVarPrefix + "_ARTIFACT_SECRET_KEY"),
			Secure:    true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create artifact sink: %w", err)
		}
		cfg.Sink = sink
	}
	return publisher.New(cfg), nil
}

// Start runs the pipeline, once or periodically per configuration.
// Change-triggered invocations are first checked against the path
// filter; a change touching no matching path skips the run entirely.
func (p *Pipeline) Start(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			p.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	p.ctx = ctx
	p.running.Store(true)

	if changeTriggered(p.config.Event) {
		if !p.filter.ShouldRun(p.config.Event) {
			p.config.Log.Info("Change touches no matching paths, skipping pipeline",
				"paths", len(p.config.Event.Paths))
			go func() {
				p.shutdownCallback(nil)
			}()
			return nil
		}
		// Proposed changes are verified as merged against their target.
		p.config.Log.Info("Change-triggered run",
			"ref", p.config.Event.Ref(),
			"trusted", p.config.Event.Trusted,
			"paths", len(p.config.Event.Paths))
	}

	p.scheduler.RegisterCallback(p.runAndReport)
	if err := p.scheduler.Start(ctx); err != nil {
		return err
	}

	if p.config.RunOnce {
		p.config.Log.Info("Pipeline completed, exiting (run-once mode)")
		go func() {
			p.shutdownCallback(nil)
		}()
	}
	return nil
}

// runAndReport executes one full pipeline run and converts its outcome
// into the typed errors the exit-code handler understands.
func (p *Pipeline) runAndReport() error {
	result, err := p.runPipeline(p.ctx)
	if err != nil {
		p.config.Log.Error("Runtime error running pipeline", "error", err)
		return NewRuntimeError(err)
	}

	p.mu.Lock()
	p.result = result
	p.mu.Unlock()

	p.printResultsTable(result)
	fmt.Println(result.String())
	metrics.RecordPipeline(result.RunID, result.Status, result.Duration)
	p.config.Log.Info("Pipeline run completed", "run_id", result.RunID, "status", result.Status)

	if p.config.RunOnce && result.Status != types.LaneStatusPass {
		return NewLaneFailureError(result.String())
	}
	return nil
}

// runPipeline drives the tier state machine for one run.
func (p *Pipeline) runPipeline(ctx context.Context) (*types.PipelineResult, error) {
	start := time.Now()
	result := &types.PipelineResult{RunID: uuid.New().String()}
	state := StateStart
	p.config.Log.Info("Starting pipeline run", "run_id", result.RunID, "state", state)

	offlineLanes, err := p.def.Offline.Lanes()
	if err != nil {
		return nil, fmt.Errorf("expanding offline matrix: %w", err)
	}

	state = StateOfflineRunning
	p.config.Log.Info("Running offline tier",
		"state", state,
		"lanes", len(offlineLanes),
		"concurrency", p.config.OfflineConcurrency)
	result.Offline = p.runTier(ctx, result.RunID, types.TierOffline, offlineLanes, &p.def.Offline, p.config.OfflineConcurrency, nil)
	state = StateOfflineDone
	p.config.Log.Info("Offline tier finished", "state", state, "status", result.Offline.Status)

	p.publishTier(ctx, result.RunID, result.Offline)

	if !result.Offline.Success() {
		state = StateHalted
		p.config.Log.Warn("Offline tier did not pass, halting before online tier", "state", state)
		result.Finalize()
		result.Duration = time.Since(start)
		return result, nil
	}

	if p.def.Online == nil {
		p.config.Log.Info("No online tier defined")
		result.Finalize()
		result.Duration = time.Since(start)
		return result, nil
	}

	if changeTriggered(p.config.Event) && !p.config.Event.Trusted {
		// Untrusted code never runs against live accounts.
		state = StateHalted
		p.config.Log.Warn("Change is untrusted, skipping online tier", "state", state)
		result.Finalize()
		result.Halted = true
		result.Duration = time.Since(start)
		return result, nil
	}

	onlineLanes, err := p.def.Online.Lanes()
	if err != nil {
		return nil, fmt.Errorf("expanding online matrix: %w", err)
	}

	concurrency := onlineConcurrency(p.config.OnlineConcurrency, onlineLanes)
	state = StateOnlineRunning
	p.config.Log.Info("Running online tier",
		"state", state,
		"lanes", len(onlineLanes),
		"slots", matrix.DistinctSlots(onlineLanes),
		"concurrency", concurrency)
	result.Online = p.runTier(ctx, result.RunID, types.TierOnline, onlineLanes, p.def.Online, concurrency, p.prepareOnlineLane)
	state = StateOnlineDone
	p.config.Log.Info("Online tier finished", "state", state, "status", result.Online.Status)

	p.publishTier(ctx, result.RunID, result.Online)

	result.Finalize()
	result.Duration = time.Since(start)
	return result, nil
}

// runTier dispatches one tier's lanes and aggregates their results.
func (p *Pipeline) runTier(ctx context.Context, runID string, tier types.Tier, lanes []types.Lane, def *matrix.TierDefinition, concurrency int, prepare runner.PrepareLane) *types.TierResult {
	tierResult := types.NewTierResult(tier)
	executor := runner.NewExecutor(p.runner, concurrency, p.config.Log)
	for _, laneResult := range executor.ExecuteTier(ctx, tier, lanes, def.Command, def.MaxRetries, prepare) {
		tierResult.Add(laneResult)
		metrics.RecordLane(runID, tier, laneResult.Status, laneResult.Attempts-1)
	}
	tierResult.Finalize()
	return tierResult
}

// prepareOnlineLane acquires the lane's access token right before its
// first attempt. Slot-serialized scheduling guarantees the slot is not
// held by any other in-flight lane at this moment.
func (p *Pipeline) prepareOnlineLane(ctx context.Context, lane types.Lane) (*types.AccessToken, error) {
	token, err := p.broker.Acquire(ctx, lane.Slot)
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (p *Pipeline) publishTier(ctx context.Context, runID string, tierResult *types.TierResult) {
	results := make([]*types.LaneResult, 0, len(tierResult.Lanes))
	for _, laneResult := range tierResult.Lanes {
		results = append(results, laneResult)
	}
	if err := p.publisher.Publish(ctx, runID, tierResult.Tier, results); err != nil {
		// Observational only; the tier result stands.
		p.config.Log.Warn("Coverage publishing incomplete", "tier", tierResult.Tier, "error", err)
	}
}

// Stop stops the pipeline service.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.config.Log.Info("Stopping sync-acceptor")

	if !p.running.Load() {
		p.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	p.running.Store(false)

	if err := p.scheduler.Stop(); err != nil {
		return err
	}
	p.config.Log.Info("sync-acceptor stopped successfully")
	return nil
}

// Stopped returns true if the pipeline service is stopped.
func (p *Pipeline) Stopped() bool {
	return !p.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (p *Pipeline) WaitForShutdown(ctx context.Context) error {
	return p.scheduler.WaitForShutdown(ctx)
}

// Result returns the most recent pipeline result.
func (p *Pipeline) Result() *types.PipelineResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// onlineConcurrency derives the online tier's concurrency cap: bounded
// by the number of distinct credential slots, optionally tightened by
// configuration.
func onlineConcurrency(configured int, lanes []types.Lane) int {
	slots := matrix.DistinctSlots(lanes)
	if slots == 0 {
		return 1
	}
	if configured > 0 && configured < slots {
		return configured
	}
	return slots
}

func changeTriggered(event trigger.ChangeEvent) bool {
	return len(event.Paths) > 0 || event.MergeRef != ""
}
