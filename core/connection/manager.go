// Package connection owns the connect/verify/disconnect lifecycle and the
// per-platform connection state.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// Manager tracks one Connection per platform name. Operations against the
// same platform are serialized; operations against different platforms run
// concurrently. Status reads return snapshots and may be briefly stale.
type Manager struct {
	registry    Registry
	credentials CredentialStore
	callTimeout time.Duration
	log         *logrus.Entry

	mu          sync.RWMutex
	connections map[string]models.Connection

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Registry is the subset of the connector registry the manager needs.
type Registry interface {
	Get(name string) (connector.Connector, error)
	Platforms() []models.Platform
}

// NewManager creates a connection manager. callTimeout bounds each
// individual provider API call; it is distinct from any job-level timeout.
func NewManager(registry Registry, credentials CredentialStore, callTimeout time.Duration, log *logrus.Logger) *Manager {
	return &Manager{
		registry:    registry,
		credentials: credentials,
		callTimeout: callTimeout,
		log:         log.WithField("component", "connection"),
		connections: make(map[string]models.Connection),
		locks:       make(map[string]*sync.Mutex),
	}
}

// platformLock returns the serialization point for one platform name.
func (m *Manager) platformLock(name string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Connect validates the credentials against the platform's required fields,
// invokes the connector's connect operation, and on success persists the
// credentials and records the connection. Fails with *fterr.ValidationError
// naming the first missing credential field.
func (m *Manager) Connect(ctx context.Context, platformName string, creds models.Credentials) (models.Connection, error) {
	c, err := m.registry.Get(platformName)
	if err != nil {
		return models.Connection{}, err
	}
	platform := c.Platform()

	for _, field := range platform.RequiredCredFields {
		if creds[field] == "" {
			return models.Connection{}, &fterr.ValidationError{Field: field, Reason: "required credential field missing"}
		}
	}

	lock := m.platformLock(platformName)
	lock.Lock()
	defer lock.Unlock()

	m.setConnection(models.Connection{PlatformName: platformName, Status: models.ConnectionConnecting})

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := c.Connect(callCtx, creds); err != nil {
		m.setConnection(models.Connection{
			PlatformName: platformName,
			Status:       models.ConnectionError,
			LastError:    err.Error(),
		})
		return models.Connection{}, err
	}

	if err := m.credentials.Put(platformName, creds); err != nil {
		m.log.WithField("platform", platformName).WithError(err).Warn("failed to persist credentials")
	}

	now := time.Now()
	record := models.Connection{
		SessionID:    uuid.NewString(),
		PlatformName: platformName,
		Status:       models.ConnectionConnected,
		ConnectedAt:  &now,
	}
	m.setConnection(record)
	m.log.WithFields(logrus.Fields{"platform": platformName, "session": record.SessionID}).Info("connected")
	return record, nil
}

// Reconnect re-establishes a session from the stored credentials, without
// the caller re-supplying them. Used to recover a connection that dropped
// into the error state. Fails with *fterr.NotConnectedError when no
// credentials are stored for the platform.
func (m *Manager) Reconnect(ctx context.Context, platformName string) (models.Connection, error) {
	creds, ok, err := m.credentials.Get(platformName)
	if err != nil {
		return models.Connection{}, fmt.Errorf("read stored credentials for %s: %w", platformName, err)
	}
	if !ok {
		return models.Connection{}, &fterr.NotConnectedError{PlatformName: platformName}
	}
	return m.Connect(ctx, platformName, creds)
}

// Verify re-probes an existing connection without re-submitting credentials.
// On failure the connection is marked errored but not removed.
func (m *Manager) Verify(ctx context.Context, platformName string) (bool, error) {
	c, err := m.registry.Get(platformName)
	if err != nil {
		return false, err
	}

	lock := m.platformLock(platformName)
	lock.Lock()
	defer lock.Unlock()

	record, ok := m.getConnection(platformName)
	if !ok || record.Status != models.ConnectionConnected {
		return false, &fterr.NotConnectedError{PlatformName: platformName}
	}

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if _, err := c.ListResources(callCtx); err != nil {
		record.Status = models.ConnectionError
		record.LastError = err.Error()
		m.setConnection(record)
		m.log.WithField("platform", platformName).WithError(err).Warn("verify failed")
		return false, nil
	}

	now := time.Now()
	record.LastVerifiedAt = &now
	record.LastError = ""
	m.setConnection(record)
	return true, nil
}

// Disconnect tears down the provider session, deletes stored credentials,
// and removes the connection record.
func (m *Manager) Disconnect(ctx context.Context, platformName string) error {
	c, err := m.registry.Get(platformName)
	if err != nil {
		return err
	}

	lock := m.platformLock(platformName)
	lock.Lock()
	defer lock.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()
	if err := c.Disconnect(callCtx); err != nil {
		m.log.WithField("platform", platformName).WithError(err).Warn("provider disconnect failed")
	}
	if err := m.credentials.Delete(platformName); err != nil {
		m.log.WithField("platform", platformName).WithError(err).Warn("failed to delete credentials")
	}

	m.mu.Lock()
	delete(m.connections, platformName)
	m.mu.Unlock()
	m.log.WithField("platform", platformName).Info("disconnected")
	return nil
}

// DisconnectAll tears down every live connection. Used at shutdown.
func (m *Manager) DisconnectAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if err := m.Disconnect(ctx, name); err != nil {
			m.log.WithField("platform", name).WithError(err).Warn("disconnect at shutdown failed")
		}
	}
}

// Live returns the connector for a platform with a connected session, or
// *fterr.NotConnectedError.
func (m *Manager) Live(platformName string) (connector.Connector, error) {
	record, ok := m.getConnection(platformName)
	if !ok || record.Status != models.ConnectionConnected {
		return nil, &fterr.NotConnectedError{PlatformName: platformName}
	}
	return m.registry.Get(platformName)
}

// Status returns a snapshot of the connection record for one platform.
func (m *Manager) Status(platformName string) (models.Connection, bool) {
	return m.getConnection(platformName)
}

// Connections returns a snapshot of all connection records.
func (m *Manager) Connections() []models.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	return out
}

// CallTimeout returns the per-call timeout shared by dependent components.
func (m *Manager) CallTimeout() time.Duration {
	return m.callTimeout
}

func (m *Manager) getConnection(name string) (models.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[name]
	return c, ok
}

func (m *Manager) setConnection(c models.Connection) {
	m.mu.Lock()
	m.connections[c.PlatformName] = c
	m.mu.Unlock()
}
