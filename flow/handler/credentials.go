package handler

import (
	"errors"
	"sync"
)

// ErrCredentialNotFound is returned when a requested credential name has no
// stored entry.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is a named secret resolved at execution time. Type describes
// how the http handler applies it: "bearer" adds an Authorization header,
// "header" sets the header named in Data["name"], "basic" sends
// Data["user"]/Data["password"].
type Credential struct {
	Name string
	Type string
	Data map[string]string
}

// CredentialProvider resolves credentials by name for handlers that talk to
// external services. Workflow definitions reference credentials by name
// only; secret material never appears in a definition.
type CredentialProvider interface {
	Get(name string) (Credential, error)
}

// MemCredentials is an in-memory CredentialProvider. Safe for concurrent
// use. Suited to tests and single-process deployments; production embeds
// should back this interface with their secret manager.
type MemCredentials struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewMemCredentials creates an empty in-memory credential provider.
func NewMemCredentials() *MemCredentials {
	return &MemCredentials{creds: make(map[string]Credential)}
}

// Set stores or replaces a credential under its name.
func (m *MemCredentials) Set(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.Name] = cred
}

// Get implements CredentialProvider.
func (m *MemCredentials) Get(name string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.creds[name]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}
