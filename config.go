package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/driftsync/sync-acceptor/flags"
	"github.com/driftsync/sync-acceptor/trigger"
)

// SecretsBackend selects where credential slot secrets are read from.
type SecretsBackend string

const (
	SecretsBackendEnv SecretsBackend = "env"
	SecretsBackendDir SecretsBackend = "dir"
)

func (b SecretsBackend) IsValid() bool {
	return b == SecretsBackendEnv || b == SecretsBackendDir
}

// Config holds the application configuration
type Config struct {
	DefinitionPath string
	WorkDir        string
	CoverageDir    string

	TokenURL string
	ClientID string

	SecretsBackend SecretsBackend
	SecretsDir     string

	RunInterval time.Duration // Interval between pipeline runs
	RunOnce     bool          // Indicates if the service should exit after one run
	LaneTimeout time.Duration // Execution time limit per lane attempt

	OfflineConcurrency int
	OnlineConcurrency  int // 0 = bounded only by distinct credential slots

	PublishEndpoint  string
	ArtifactEndpoint string
	ArtifactBucket   string

	Event           trigger.ChangeEvent
	TriggerPatterns []string

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	definitionPath, err := filepath.Abs(ctx.String(flags.PipelineDefinition.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for pipeline definition: %w", err)
	}
	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for work directory: %w", err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("work directory %q does not exist", workDir)
	}

	coverageDir := ctx.String(flags.CoverageDir.Name)
	if coverageDir == "" {
		coverageDir = filepath.Join(workDir, "coverage")
	}
	coverageDir, err = filepath.Abs(coverageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for coverage directory: %w", err)
	}

	backend := SecretsBackend(ctx.String(flags.SecretsBackend.Name))
	if !backend.IsValid() {
		return nil, fmt.Errorf("invalid secrets backend: %s. Must be one of: %s, %s",
			backend, SecretsBackendEnv, SecretsBackendDir)
	}
	secretsDir := ctx.String(flags.SecretsDir.Name)
	if backend == SecretsBackendDir && secretsDir == "" {
		return nil, errors.New("secrets directory is required with --secrets-backend=dir")
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval == 0

	if !runOnce && ctx.IsSet(flags.ChangedPath.Name) {
		return nil, errors.New("change-triggered invocation is incompatible with interval mode")
	}

	return &Config{
		DefinitionPath:     definitionPath,
		WorkDir:            workDir,
		CoverageDir:        coverageDir,
		TokenURL:           ctx.String(flags.TokenURL.Name),
		ClientID:           ctx.String(flags.ClientID.Name),
		SecretsBackend:     backend,
		SecretsDir:         secretsDir,
		RunInterval:        runInterval,
		RunOnce:            runOnce,
		LaneTimeout:        ctx.Duration(flags.LaneTimeout.Name),
		OfflineConcurrency: ctx.Int(flags.OfflineConcurrency.Name),
		OnlineConcurrency:  ctx.Int(flags.OnlineConcurrency.Name),
		PublishEndpoint:    ctx.String(flags.PublishEndpoint.Name),
		ArtifactEndpoint:   ctx.String(flags.ArtifactEndpoint.Name),
		ArtifactBucket:     ctx.String(flags.ArtifactBucket.Name),
		Event: trigger.ChangeEvent{
			MergeRef: ctx.String(flags.MergeRef.Name),
			Paths:    ctx.StringSlice(flags.ChangedPath.Name),
			Trusted:  ctx.Bool(flags.Trusted.Name),
		},
		TriggerPatterns: ctx.StringSlice(flags.TriggerPattern.Name),
		Log:             logger,
	}, nil
}
