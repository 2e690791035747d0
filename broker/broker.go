// Package broker exchanges long-lived refresh secrets for short-lived,
// lane-scoped access tokens. The broker is stateless: each Acquire reads
// the secret fresh from the store, performs a single refresh-grant
// exchange, and holds neither value beyond the call.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/oauth2"

	"github.com/driftsync/sync-acceptor/logging"
	"github.com/driftsync/sync-acceptor/metrics"
	"github.com/driftsync/sync-acceptor/secrets"
	"github.com/driftsync/sync-acceptor/types"
)

// TokenAcquisitionError indicates the exchange for a slot failed. It is
// fatal to the requesting lane and precedes test execution, so it never
// consumes a lane retry.
type TokenAcquisitionError struct {
	Slot string
	Err  error
}

func (e *TokenAcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire access token for slot %q: %v", e.Slot, e.Err)
}

func (e *TokenAcquisitionError) Unwrap() error {
	return e.Err
}

// IsTokenAcquisitionError checks if the error is or wraps a TokenAcquisitionError
func IsTokenAcquisitionError(err error) bool {
	var tokenErr *TokenAcquisitionError
	return err != nil && errors.As(err, &tokenErr)
}

// Config holds the remote token endpoint parameters.
type Config struct {
	TokenURL string
	ClientID string
	// HTTPClient overrides the client used for the exchange; tests point
	// it at a local endpoint. The transport must be encrypted in
	// production, which the remote endpoint enforces by being https-only.
	HTTPClient *http.Client
	Timeout    time.Duration
}

func (c Config) check() error {
	if c.TokenURL == "" {
		return errors.New("token endpoint URL is required")
	}
	if c.ClientID == "" {
		return errors.New("client ID is required")
	}
	return nil
}

// Broker performs per-lane refresh-grant exchanges.
type Broker struct {
	cfg   Config
	store secrets.Store
	vault *logging.Vault
	log   log.Logger
}

func New(cfg Config, store secrets.Store, vault *logging.Vault, logger log.Logger) (*Broker, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("secret store is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Broker{
		cfg:   cfg,
		store: store,
		vault: vault,
		log:   logger.New("component", "token-broker"),
	}, nil
}

// Acquire exchanges the slot's refresh secret for a short-lived access
// token scoped to the requesting lane. The secret is read at call time
// and discarded when the call returns; the token value is registered
// with the redaction vault before it is handed back.
func (b *Broker) Acquire(ctx context.Context, slot string) (types.AccessToken, error) {
	secret, err := b.store.Secret(ctx, slot)
	if err != nil {
		metrics.RecordTokenAcquisition(slot, false)
		return types.AccessToken{}, &TokenAcquisitionError{Slot: slot, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()
	if b.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, b.cfg.HTTPClient)
	}

	// A fresh token source per call: nothing is cached across lanes and
	// the refresh secret travels only as a request parameter.
	conf := &oauth2.Config{
		ClientID: b.cfg.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: b.cfg.TokenURL},
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: secret}).Token()
	if err != nil {
		metrics.RecordTokenAcquisition(slot, false)
		b.log.Warn("Token exchange failed", "slot", slot, "error", describeExchangeError(err))
		return types.AccessToken{}, &TokenAcquisitionError{Slot: slot, Err: err}
	}

	if b.vault != nil {
		b.vault.Register(tok.AccessToken)
	}
	metrics.RecordTokenAcquisition(slot, true)
	b.log.Debug("Acquired access token", "slot", slot, "expiry", tok.Expiry)
	return types.NewAccessToken(tok.AccessToken, slot, tok.Expiry), nil
}

// describeExchangeError reduces an exchange error to its remote error
// code where available, keeping response bodies (which may echo request
// parameters) out of the logs.
func describeExchangeError(err error) string {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode != "" {
			return fmt.Sprintf("remote error %q (http %d)", retrieveErr.ErrorCode, retrieveErr.Response.StatusCode)
		}
		return fmt.Sprintf("http %d from token endpoint", retrieveErr.Response.StatusCode)
	}
	return err.Error()
}
