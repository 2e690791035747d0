// Package publisher forwards per-lane coverage artifacts to the external
// reporting collaborator. Publishing is observational: failures are
// logged and counted, never gating.
package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/driftsync/sync-acceptor/metrics"
	"github.com/driftsync/sync-acceptor/types"
)

// PublishError aggregates the lanes whose artifacts could not be
// forwarded. Callers report it; it never changes a lane's status.
type PublishError struct {
	Tier   types.Tier
	LaneID string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to publish coverage for %s lane %s: %v", e.Tier, e.LaneID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ArtifactSink receives the raw artifact bytes in addition to the
// reporting endpoint, e.g. an object-store bucket for retention.
type ArtifactSink interface {
	Store(ctx context.Context, objectName string, path string) error
}

// Config holds the reporting endpoint parameters.
type Config struct {
	Endpoint   string // "" disables forwarding to the reporting endpoint
	HTTPClient *http.Client
	Timeout    time.Duration
	Sink       ArtifactSink // optional
	Log        log.Logger
}

// Publisher tags and forwards coverage artifacts.
type Publisher struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	sink     ArtifactSink
	log      log.Logger
}

func New(cfg Config) *Publisher {
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	return &Publisher{
		endpoint: cfg.Endpoint,
		client:   cfg.HTTPClient,
		timeout:  cfg.Timeout,
		sink:     cfg.Sink,
		log:      cfg.Log.New("component", "coverage-publisher"),
	}
}

// Publish forwards each lane's coverage artifact, tagged with tier and
// lane identity. Lanes without an artifact are skipped. All failures
// are collected and returned joined; none is fatal.
func (p *Publisher) Publish(ctx context.Context, runID string, tier types.Tier, results []*types.LaneResult) error {
	var failures []error
	for _, result := range results {
		if result.Artifact == "" {
			p.log.Debug("Lane produced no coverage artifact", "tier", tier, "lane", result.Lane.ID)
			continue
		}
		if err := p.publishLane(ctx, runID, tier, result); err != nil {
			metrics.RecordPublishFailure(tier)
			p.log.Warn("Coverage publish failed", "tier", tier, "lane", result.Lane.ID, "error", err)
			failures = append(failures, &PublishError{Tier: tier, LaneID: result.Lane.ID, Err: err})
		}
	}
	return errors.Join(failures...)
}

func (p *Publisher) publishLane(ctx context.Context, runID string, tier types.Tier, result *types.LaneResult) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.sink != nil {
		objectName := fmt.Sprintf("%s/%s/%s.out", runID, tier, result.Lane.ID)
		if err := p.sink.Store(ctx, objectName, result.Artifact); err != nil {
			return fmt.Errorf("artifact sink: %w", err)
		}
	}
	if p.endpoint == "" {
		return nil
	}
	return p.post(ctx, runID, tier, result)
}

// post uploads the artifact as a multipart form with tier and axis tags,
// the shape the reporting endpoint acknowledges.
func (p *Publisher) post(ctx context.Context, runID string, tier types.Tier, result *types.LaneResult) error {
	file, err := os.Open(result.Artifact)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	fields := map[string]string{
		"run_id": runID,
		"tier":   string(tier),
		"lane":   result.Lane.ID,
		"status": string(result.Status),
	}
	for _, v := range result.Lane.Values {
		fields["axis."+v.Axis] = v.Value
	}
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return fmt.Errorf("building form: %w", err)
		}
	}
	part, err := form.CreateFormFile("coverage", result.Lane.ID+".out")
	if err != nil {
		return fmt.Errorf("building form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("reading artifact: %w", err)
	}
	if err := form.Close(); err != nil {
		return fmt.Errorf("building form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("reporting endpoint returned %d", resp.StatusCode)
	}
	p.log.Debug("Published coverage artifact", "tier", tier, "lane", result.Lane.ID)
	return nil
}
