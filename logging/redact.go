// Package logging provides the redaction layer every logging sink runs
// through. Secrets and acquired tokens are registered with a Vault; the
// RedactingHandler masks registered values before any handler persists
// a record.
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

const mask = "[REDACTED]"

// Vault holds the set of sensitive values known to the process. It is
// safe for concurrent use; registration is append-only for the lifetime
// of a pipeline run.
type Vault struct {
	mu      sync.RWMutex
	secrets []string
}

func NewVault() *Vault {
	return &Vault{}
}

// Register adds a sensitive value to the vault. Empty and very short
// values are ignored to avoid masking unrelated output.
func (v *Vault) Register(secret string) {
	if len(secret) < 4 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, s := range v.secrets {
		if s == secret {
			return
		}
	}
	v.secrets = append(v.secrets, secret)
}

// Redact replaces every registered value in s with a mask.
func (v *Vault) Redact(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, secret := range v.secrets {
		if strings.Contains(s, secret) {
			s = strings.ReplaceAll(s, secret, mask)
		}
	}
	return s
}

// Contains reports whether s embeds any registered value. Used by tests
// asserting the redaction property on artifacts and results.
func (v *Vault) Contains(s string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, secret := range v.secrets {
		if strings.Contains(s, secret) {
			return true
		}
	}
	return false
}

// RedactingHandler wraps a slog.Handler and masks registered secrets in
// the message and every string attribute before delegating.
type RedactingHandler struct {
	inner slog.Handler
	vault *Vault
}

var _ slog.Handler = (*RedactingHandler)(nil)

func NewRedactingHandler(inner slog.Handler, vault *Vault) *RedactingHandler {
	return &RedactingHandler{inner: inner, vault: vault}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, h.vault.Redact(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, clean)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.redactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean), vault: h.vault}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), vault: h.vault}
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.vault.Redact(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, 0, len(group))
		for _, ga := range group {
			clean = append(clean, h.redactAttr(ga))
		}
		return slog.Group(a.Key, clean...)
	case slog.KindAny:
		// Values of unknown type are stringified so they can be masked.
		return slog.String(a.Key, h.vault.Redact(v.String()))
	default:
		return a
	}
}

// NewLogger builds the application logger: a terminal handler wrapped in
// the redaction layer. All components receive loggers derived from this
// one, so no sink sees an unredacted secret.
func NewLogger(w io.Writer, level slog.Level, color bool, vault *Vault) log.Logger {
	terminal := log.NewTerminalHandlerWithLevel(w, level, color)
	return log.NewLogger(NewRedactingHandler(terminal, vault))
}

// LevelFromString maps a CLI log level name to a slog level, defaulting
// to info for unknown names.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
