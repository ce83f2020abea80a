// Package storage implements the latest-value store the ingestion cycle writes to
// and the threshold query engine reads from.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/query"
)

var (
	// ErrUnknownAddress rejects an entry whose address is not provisioned
	ErrUnknownAddress = errors.New("unknown address")
	// ErrValueKind rejects an entry whose value type differs from the property data type
	ErrValueKind = errors.New("value kind does not match property data type")
	// ErrNotProvisioned is returned by writes and queries issued before Provision
	ErrNotProvisioned = errors.New("store is not provisioned")
)

// Status is the outcome of one batch entry
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "Error"
)

// Entry is one timestamped property value of a batch write
type Entry struct {
	EntryID   string      `json:"entry_id"`
	Address   string      `json:"address"`
	Value     fleet.Value `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

// EntryResult is the per-entry status returned by BatchWrite
type EntryResult struct {
	EntryID     string `json:"entry_id"`
	Status      Status `json:"status"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// OK reports whether the entry was accepted
func (r EntryResult) OK() bool {
	return r.Status == StatusOK
}

// Store retains, per address, the value with the greatest timestamp seen.
// A write replaces the stored value when its timestamp is greater than or equal to the stored one.
type Store interface {
	// Provision registers the fleet; entries for addresses outside it are rejected
	Provision(ctx context.Context, registry *fleet.Registry) error
	// BatchWrite returns one result per entry in input order. A non-nil error means
	// the call as a whole failed and no result is reported.
	BatchWrite(ctx context.Context, entries []Entry) ([]EntryResult, error)
	// Select returns the assets whose latest values satisfy expr, by name ascending
	Select(ctx context.Context, expr query.Expr) ([]query.AssetRef, error)
	// Latest returns the stored value of one address
	Latest(ctx context.Context, address string) (fleet.PropertyValue, bool, error)
	Close() error
}

// Mirror receives a copy of every accepted entry
type Mirror interface {
	Mirror(ctx context.Context, entries []Entry) error
	Close() error
}

// checkEntry validates an entry against the fleet schema
func checkEntry(registry *fleet.Registry, entry Entry) error {
	_, prop, err := registry.Resolve(entry.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownAddress, err)
	}
	if entry.Value.Type != prop.DataType {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrValueKind, entry.Address, prop.DataType, entry.Value.Type)
	}
	return nil
}

func okResult(entry Entry) EntryResult {
	return EntryResult{EntryID: entry.EntryID, Status: StatusOK}
}

func errorResult(entry Entry, err error) EntryResult {
	return EntryResult{EntryID: entry.EntryID, Status: StatusError, ErrorDetail: err.Error()}
}

// Manager writes to a primary store and fans accepted entries out to mirrors.
// Mirror failures are logged and never affect the write result.
type Manager struct {
	primary Store
	mirrors []Mirror
	mutex   sync.RWMutex
}

// NewManager creates a storage manager around the primary store
func NewManager(primary Store, mirrors ...Mirror) *Manager {
	return &Manager{
		primary: primary,
		mirrors: mirrors,
	}
}

// AddMirror registers another mirror
func (m *Manager) AddMirror(mirror Mirror) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.mirrors = append(m.mirrors, mirror)
}

func (m *Manager) Provision(ctx context.Context, registry *fleet.Registry) error {
	return m.primary.Provision(ctx, registry)
}

func (m *Manager) BatchWrite(ctx context.Context, entries []Entry) ([]EntryResult, error) {
	results, err := m.primary.BatchWrite(ctx, entries)
	if err != nil {
		return nil, err
	}

	accepted := make([]Entry, 0, len(entries))
	for i, result := range results {
		if result.OK() && i < len(entries) {
			accepted = append(accepted, entries[i])
		}
	}
	if len(accepted) == 0 {
		return results, nil
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, mirror := range m.mirrors {
		if err := mirror.Mirror(ctx, accepted); err != nil {
			// keep going with the other mirrors
			logger.Error("mirror %d entries failed: %v", len(accepted), err)
		}
	}
	return results, nil
}

func (m *Manager) Select(ctx context.Context, expr query.Expr) ([]query.AssetRef, error) {
	return m.primary.Select(ctx, expr)
}

func (m *Manager) Latest(ctx context.Context, address string) (fleet.PropertyValue, bool, error) {
	return m.primary.Latest(ctx, address)
}

// Close closes the mirrors and then the primary store
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, mirror := range m.mirrors {
		if err := mirror.Close(); err != nil {
			logger.Error("close mirror failed: %v", err)
		}
	}
	return m.primary.Close()
}
