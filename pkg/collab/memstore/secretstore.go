package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/archestra-ai/gateway/pkg/collab"
	"github.com/archestra-ai/gateway/pkg/errors"
)

// SecretStore is an in-memory collab.SecretStore. Vault-reference entries
// are stored as a separate (path, key) → value map, mirroring a real vault
// KV backend's addressing, distinct from plain Secret rows addressed by ID.
type SecretStore struct {
	mu     sync.RWMutex
	byID   map[string]*collab.Secret
	vault  map[string]string // key: path+"#"+key
}

// NewSecretStore returns an empty SecretStore.
func NewSecretStore() *SecretStore {
	return &SecretStore{
		byID:  map[string]*collab.Secret{},
		vault: map[string]string{},
	}
}

// Put seeds a plain or vault-reference Secret row.
func (s *SecretStore) Put(secret *collab.Secret) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[secret.ID] = secret
}

// PutVaultEntry seeds the value a vault-reference "path#key" resolves to.
func (s *SecretStore) PutVaultEntry(path, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vault[path+"#"+key] = value
}

func (s *SecretStore) Get(_ context.Context, secretID string) (*collab.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sec, ok := s.byID[secretID]; ok {
		return sec, nil
	}
	return nil, errors.NewNotFoundError(fmt.Sprintf("secret %q not found", secretID), nil)
}

func (s *SecretStore) ResolveVault(_ context.Context, path, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.vault[path+"#"+key]; ok {
		return v, nil
	}
	return "", errors.NewNotFoundError(fmt.Sprintf("vault entry %s#%s not found", path, key), nil)
}

// UpdateSecretValue overwrites secretID's Value in place.
func (s *SecretStore) UpdateSecretValue(_ context.Context, secretID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.byID[secretID]
	if !ok {
		return errors.NewNotFoundError(fmt.Sprintf("secret %q not found", secretID), nil)
	}
	sec.Value = value
	return nil
}
