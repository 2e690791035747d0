// Package runner executes the external test command inside one lane's
// isolated environment, with bounded automatic retry on test failure.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/driftsync/sync-acceptor/types"
)

// TokenEnvVar is the agreed variable name under which online lanes
// receive their access token. Nothing else credential-related enters a
// lane's environment.
const TokenEnvVar = "DRIFTSYNC_ACCESS_TOKEN"

// coverageEnvVar tells the command under test where to write its
// coverage artifact for this lane.
const coverageEnvVar = "DRIFTSYNC_COVERAGE_FILE"

// stdoutTailLimit bounds how much command output is kept on a failing
// lane result.
const stdoutTailLimit = 16 * 1024

// LaneSetupError indicates the command could not run at all. It is not
// retried; the lane surfaces it immediately.
type LaneSetupError struct {
	LaneID string
	Err    error
}

func (e *LaneSetupError) Error() string {
	return fmt.Sprintf("lane %s setup failed: %v", e.LaneID, e.Err)
}

func (e *LaneSetupError) Unwrap() error {
	return e.Err
}

// IsLaneSetupError checks if the error is or wraps a LaneSetupError
func IsLaneSetupError(err error) bool {
	var setupErr *LaneSetupError
	return err != nil && errors.As(err, &setupErr)
}

// Config holds configuration for creating a new lane runner.
type Config struct {
	WorkDir     string
	CoverageDir string
	LaneTimeout time.Duration // execution time limit per lane attempt
	Log         log.Logger
}

// Runner executes lanes. It is safe for concurrent use; each Run call
// touches only its own lane's environment and coverage path.
type Runner struct {
	workDir     string
	coverageDir string
	laneTimeout time.Duration
	log         log.Logger
}

func New(cfg Config) (*Runner, error) {
	if cfg.WorkDir == "" {
		return nil, errors.New("work directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.CoverageDir == "" {
		cfg.CoverageDir = filepath.Join(cfg.WorkDir, "coverage")
	}
	if cfg.LaneTimeout == 0 {
		cfg.LaneTimeout = 30 * time.Minute
	}
	return &Runner{
		workDir:     cfg.WorkDir,
		coverageDir: cfg.CoverageDir,
		laneTimeout: cfg.LaneTimeout,
		log:         cfg.Log,
	}, nil
}

// Run executes command for the lane, retrying failures up to maxRetries
// additional times. A pass on any attempt marks the lane successful.
// Setup errors are not retried. The token, when present, is exposed to
// the command only through the lane's process environment.
func (r *Runner) Run(ctx context.Context, tier types.Tier, lane types.Lane, command []string, maxRetries int, token *types.AccessToken) *types.LaneResult {
	result := &types.LaneResult{Lane: lane, Tier: tier}
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
	}()

	if len(command) == 0 {
		result.Status = types.LaneStatusError
		result.Err = &LaneSetupError{LaneID: lane.ID, Err: errors.New("empty command")}
		return result
	}

	artifact := r.artifactPath(tier, lane)
	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		result.Status = types.LaneStatusError
		result.Err = &LaneSetupError{LaneID: lane.ID, Err: err}
		return result
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			result.Status = types.LaneStatusError
			result.Err = &LaneSetupError{LaneID: lane.ID, Err: ctx.Err()}
			return result
		}
		result.Attempts++

		r.log.Info("Running lane", "tier", tier, "lane", lane.ID, "attempt", attempt+1, "maxAttempts", maxRetries+1)
		status, stdout, err := r.runOnce(ctx, lane, command, artifact, token)
		result.Status = status
		result.Err = err

		if status == types.LaneStatusPass {
			break
		}
		result.Stdout = tail(stdout, stdoutTailLimit)
		if status == types.LaneStatusError {
			// Environment broke; retrying cannot help.
			r.log.Error("Lane could not run", "tier", tier, "lane", lane.ID, "error", err)
			break
		}
		if attempt < maxRetries {
			r.log.Warn("Lane failed, retrying", "tier", tier, "lane", lane.ID, "attempt", attempt+1, "remaining", maxRetries-attempt)
		}
	}

	if info, err := os.Stat(artifact); err == nil && info.Size() > 0 {
		result.Artifact = artifact
	}

	r.log.Info("Lane finished",
		"tier", tier,
		"lane", lane.ID,
		"status", result.Status,
		"attempts", result.Attempts,
		"artifact", result.Artifact)
	return result
}

// runOnce performs a single execution of the lane command.
func (r *Runner) runOnce(ctx context.Context, lane types.Lane, command []string, artifact string, token *types.AccessToken) (types.LaneStatus, string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.laneTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = r.workDir
	cmd.Env = r.laneEnv(lane, artifact, token)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("Running lane command",
		"lane", lane.ID,
		"dir", cmd.Dir,
		"command", strings.Join(command, " "),
		"timeout", r.laneTimeout)

	err := cmd.Run()
	combined := stdout.String() + stderr.String()
	if err == nil {
		return types.LaneStatusPass, combined, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return types.LaneStatusFail, combined, fmt.Errorf("lane timed out after %v", r.laneTimeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The command ran and reported failing tests; retryable.
		return types.LaneStatusFail, combined, fmt.Errorf("test command exited with status %d", exitErr.ExitCode())
	}

	// The command never ran: missing binary, bad workdir, etc.
	return types.LaneStatusError, combined, &LaneSetupError{LaneID: lane.ID, Err: err}
}

// laneEnv builds the isolated environment for a lane. Only a minimal
// base is inherited from the orchestrator process; the rest is the
// lane's axis bindings, its coverage path, and (for online lanes) the
// access token. Long-lived secrets never appear here.
func (r *Runner) laneEnv(lane types.Lane, artifact string, token *types.AccessToken) []string {
	env := make([]string, 0, len(lane.Values)+8)
	for _, name := range []string{"PATH", "HOME", "TMPDIR", "TEMP", "TMP", "SYSTEMROOT"} {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	for _, v := range lane.Values {
		env = append(env, fmt.Sprintf("DRIFTSYNC_MATRIX_%s=%s", strings.ToUpper(v.Axis), v.Value))
	}
	env = append(env, coverageEnvVar+"="+artifact)
	if token != nil {
		env = append(env, TokenEnvVar+"="+token.Value())
	}
	return env
}

// artifactPath renders the per-lane coverage output location. Lane IDs
// contain '=' and ',' only, both safe in file names on the supported
// platforms.
func (r *Runner) artifactPath(tier types.Tier, lane types.Lane) string {
	return filepath.Join(r.coverageDir, string(tier), lane.ID+".out")
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}
