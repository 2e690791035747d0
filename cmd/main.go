package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	pipeline "github.com/driftsync/sync-acceptor"
	"github.com/driftsync/sync-acceptor/exitcodes"
	"github.com/driftsync/sync-acceptor/flags"
	"github.com/driftsync/sync-acceptor/logging"
	"github.com/driftsync/sync-acceptor/service"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "sync-acceptor"
	app.Usage = "Driftsync Client Acceptance Pipeline"
	app.Description = "sync-acceptor runs the two-tier verification pipeline for the driftsync client library"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			// Check for typed pipeline errors
			if pipeline.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else if pipeline.IsLaneFailureError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.LaneFailure))
			} else {
				// For other unspecified errors, default to exit code 1
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.LaneFailure))
			}
		}
	}

	// Start healthz and metrics servers
	svc := service.New()
	svc.Start(context.Background())
	defer svc.Shutdown()

	if err := app.Run(os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func run(cliCtx *cli.Context) error {
	vault := logging.NewVault()
	logger := logging.NewLogger(
		os.Stdout,
		logging.LevelFromString(cliCtx.String(flags.LogLevel.Name)),
		cliCtx.Bool(flags.LogColor.Name),
		vault,
	)

	cfg, err := pipeline.NewConfig(cliCtx, logger)
	if err != nil {
		return pipeline.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	ctx, cancel := context.WithCancel(cliCtx.Context)
	defer cancel()

	// closeApp is handed to the pipeline so it can signal a clean exit
	// from run-once mode.
	appDone := make(chan error, 1)
	closeApp := func(err error) {
		select {
		case appDone <- err:
		default:
		}
	}

	p, err := pipeline.New(ctx, cfg, Version, vault, closeApp)
	if err != nil {
		return pipeline.NewRuntimeError(fmt.Errorf("failed to create pipeline: %w", err))
	}

	if err := p.Start(ctx); err != nil {
		// Run-once outcomes surface here as typed errors
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	case runErr = <-appDone:
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := p.Stop(stopCtx); err != nil {
		logger.Error("Error stopping pipeline", "error", err)
	}
	if err := p.WaitForShutdown(stopCtx); err != nil {
		logger.Warn("Shutdown incomplete", "error", err)
	}
	return runErr
}
