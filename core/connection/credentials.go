package connection

import (
	"sync"

	"finetune-orchestrator/core/models"
)

// CredentialStore is the opaque secret store the core depends on. The
// desktop shell provides an OS-keychain-backed implementation; the core
// never sees anything beyond get/put/delete keyed by platform name.
type CredentialStore interface {
	Get(platformName string) (models.Credentials, bool, error)
	Put(platformName string, creds models.Credentials) error
	Delete(platformName string) error
}

// MemoryCredentialStore is an in-process CredentialStore used by tests and
// by the standalone server when no keychain is wired in.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string]models.Credentials
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{creds: make(map[string]models.Credentials)}
}

func (s *MemoryCredentialStore) Get(platformName string) (models.Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, ok := s.creds[platformName]
	if !ok {
		return nil, false, nil
	}
	copied := make(models.Credentials, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	return copied, true, nil
}

func (s *MemoryCredentialStore) Put(platformName string, creds models.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(models.Credentials, len(creds))
	for k, v := range creds {
		copied[k] = v
	}
	s.creds[platformName] = copied
	return nil
}

func (s *MemoryCredentialStore) Delete(platformName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, platformName)
	return nil
}
