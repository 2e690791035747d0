package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "SYNC_ACCEPTOR"

func prefixEnvVars(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	PipelineDefinition = &cli.StringFlag{
		Name:     "pipeline",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("PIPELINE"),
		Usage:    "Path to the pipeline definition file (eg. 'pipeline.yaml')",
	}
	WorkDir = &cli.StringFlag{
		Name:     "workdir",
		Value:    "",
		Required: true,
		EnvVars:  prefixEnvVars("WORKDIR"),
		Usage:    "Directory containing the checked-out code under test",
	}
	CoverageDir = &cli.StringFlag{
		Name:    "coverage-dir",
		Value:   "",
		EnvVars: prefixEnvVars("COVERAGE_DIR"),
		Usage:   "Directory for per-lane coverage artifacts (default '<workdir>/coverage')",
	}
	TokenURL = &cli.StringFlag{
		Name:    "token-url",
		Value:   "",
		EnvVars: prefixEnvVars("TOKEN_URL"),
		Usage:   "Remote service token endpoint for the refresh-grant exchange (required when the pipeline has an online tier)",
	}
	ClientID = &cli.StringFlag{
		Name:    "client-id",
		Value:   "",
		EnvVars: prefixEnvVars("CLIENT_ID"),
		Usage:   "Client identifier presented to the token endpoint",
	}
	SecretsBackend = &cli.StringFlag{
		Name:    "secrets-backend",
		Value:   "env",
		EnvVars: prefixEnvVars("SECRETS_BACKEND"),
		Usage:   "Where credential slot secrets are read from: 'env' or 'dir'",
	}
	SecretsDir = &cli.StringFlag{
		Name:    "secrets-dir",
		Value:   "",
		EnvVars: prefixEnvVars("SECRETS_DIR"),
		Usage:   "Directory of slot secret files (required with --secrets-backend=dir)",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: prefixEnvVars("RUN_INTERVAL"),
		Usage:   "Interval between pipeline runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	LaneTimeout = &cli.DurationFlag{
		Name:    "lane-timeout",
		Value:   0,
		EnvVars: prefixEnvVars("LANE_TIMEOUT"),
		Usage:   "Execution time limit per lane attempt (default 30m)",
	}
	OfflineConcurrency = &cli.IntFlag{
		Name:    "offline-concurrency",
		Value:   8,
		EnvVars: prefixEnvVars("OFFLINE_CONCURRENCY"),
		Usage:   "Maximum concurrent offline lanes",
	}
	OnlineConcurrency = &cli.IntFlag{
		Name:    "online-concurrency",
		Value:   0,
		EnvVars: prefixEnvVars("ONLINE_CONCURRENCY"),
		Usage:   "Maximum concurrent online lanes; capped at the number of distinct credential slots (0 = that number)",
	}
	PublishEndpoint = &cli.StringFlag{
		Name:    "publish-endpoint",
		Value:   "",
		EnvVars: prefixEnvVars("PUBLISH_ENDPOINT"),
		Usage:   "Coverage reporting endpoint; empty disables forwarding",
	}
	ArtifactEndpoint = &cli.StringFlag{
		Name:    "artifact-endpoint",
		Value:   "",
		EnvVars: prefixEnvVars("ARTIFACT_ENDPOINT"),
		Usage:   "S3-compatible endpoint for coverage artifact retention; empty disables the sink",
	}
	ArtifactBucket = &cli.StringFlag{
		Name:    "artifact-bucket",
		Value:   "",
		EnvVars: prefixEnvVars("ARTIFACT_BUCKET"),
		Usage:   "Bucket for coverage artifact retention",
	}
	ChangedPath = &cli.StringSliceFlag{
		Name:    "changed-path",
		EnvVars: prefixEnvVars("CHANGED_PATHS"),
		Usage:   "Paths touched by the triggering change; omit for an on-demand run",
	}
	TriggerPattern = &cli.StringSliceFlag{
		Name:    "trigger-pattern",
		EnvVars: prefixEnvVars("TRIGGER_PATTERNS"),
		Usage:   "Path patterns that allow a change-triggered run (e.g. 'src/**', 'tests/**')",
	}
	MergeRef = &cli.StringFlag{
		Name:    "merge-ref",
		Value:   "",
		EnvVars: prefixEnvVars("MERGE_REF"),
		Usage:   "Merge ref of the proposed change against its target, for change-triggered runs",
	}
	Trusted = &cli.BoolFlag{
		Name:    "trusted",
		Value:   false,
		EnvVars: prefixEnvVars("TRUSTED"),
		Usage:   "Whether the triggering change comes from a trusted source; untrusted runs skip the online tier",
	}
	LogLevel = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVars("LOG_LEVEL"),
		Usage:   "Log level: trace, debug, info, warn, error, crit",
	}
	LogColor = &cli.BoolFlag{
		Name:    "log-color",
		Value:   false,
		EnvVars: prefixEnvVars("LOG_COLOR"),
		Usage:   "Colorize terminal log output",
	}
)

var requiredFlags = []cli.Flag{
	PipelineDefinition,
	WorkDir,
}

var optionalFlags = []cli.Flag{
	CoverageDir,
	TokenURL,
	ClientID,
	SecretsBackend,
	SecretsDir,
	RunInterval,
	LaneTimeout,
	OfflineConcurrency,
	OnlineConcurrency,
	PublishEndpoint,
	ArtifactEndpoint,
	ArtifactBucket,
	ChangedPath,
	TriggerPattern,
	MergeRef,
	Trusted,
	LogLevel,
	LogColor,
}

var Flags []cli.Flag

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
