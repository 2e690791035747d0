// Package secrets provides read-only access to the long-lived refresh
// secrets backing credential slots. The store never writes, never caches,
// and registers every value it hands out with the redaction vault so the
// value cannot reach a log sink.
package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftsync/sync-acceptor/logging"
)

// Store reads the long-lived secret for a named credential slot.
type Store interface {
	Secret(ctx context.Context, slot string) (string, error)
}

// UnknownSlotError indicates the backing store has no secret for a slot.
type UnknownSlotError struct {
	Slot string
}

func (e *UnknownSlotError) Error() string {
	return fmt.Sprintf("no secret found for credential slot %q", e.Slot)
}

// EnvStore resolves slot names to environment variables of the form
// <Prefix>_<SLOT>, with the slot name upper-cased and non-alphanumerics
// mapped to underscores. This is the store CI providers feed from their
// own secret facilities.
type EnvStore struct {
	Prefix string
	Vault  *logging.Vault
}

var _ Store = (*EnvStore)(nil)

func NewEnvStore(prefix string, vault *logging.Vault) *EnvStore {
	return &EnvStore{Prefix: prefix, Vault: vault}
}

func (s *EnvStore) Secret(_ context.Context, slot string) (string, error) {
	name := s.Prefix + "_" + envName(slot)
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return "", &UnknownSlotError{Slot: slot}
	}
	if s.Vault != nil {
		s.Vault.Register(value)
	}
	return value, nil
}

func envName(slot string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, slot)
	return mapped
}

// FileStore resolves slot names to files under Dir, one secret per file.
// Secrets are expected to be mounted read-only (e.g. from a secret
// volume); file modes looser than 0600 are rejected.
type FileStore struct {
	Dir   string
	Vault *logging.Vault
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string, vault *logging.Vault) *FileStore {
	return &FileStore{Dir: dir, Vault: vault}
}

func (s *FileStore) Secret(_ context.Context, slot string) (string, error) {
	if strings.ContainsAny(slot, "/\\") {
		return "", fmt.Errorf("invalid credential slot name %q", slot)
	}
	path := filepath.Join(s.Dir, slot)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &UnknownSlotError{Slot: slot}
		}
		return "", fmt.Errorf("reading secret for slot %q: %w", slot, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", fmt.Errorf("secret file for slot %q is group/world accessible (mode %04o)", slot, info.Mode().Perm())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading secret for slot %q: %w", slot, err)
	}
	value := strings.TrimSpace(string(raw))
	if value == "" {
		return "", &UnknownSlotError{Slot: slot}
	}
	if s.Vault != nil {
		s.Vault.Register(value)
	}
	return value, nil
}
