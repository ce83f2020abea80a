package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/query"
)

// MemoryStore keeps the latest value per address in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	registry *fleet.Registry
	values   map[string]fleet.PropertyValue
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]fleet.PropertyValue),
	}
}

func (s *MemoryStore) Provision(ctx context.Context, registry *fleet.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registry = registry
	return nil
}

func (s *MemoryStore) BatchWrite(ctx context.Context, entries []Entry) ([]EntryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registry == nil {
		return nil, ErrNotProvisioned
	}

	results := make([]EntryResult, 0, len(entries))
	for _, entry := range entries {
		if err := checkEntry(s.registry, entry); err != nil {
			results = append(results, errorResult(entry, err))
			continue
		}
		if current, ok := s.values[entry.Address]; !ok || entry.Timestamp >= current.Timestamp {
			s.values[entry.Address] = fleet.PropertyValue{
				Address:   entry.Address,
				Value:     entry.Value,
				Timestamp: entry.Timestamp,
			}
		}
		results = append(results, okResult(entry))
	}
	return results, nil
}

func (s *MemoryStore) Select(ctx context.Context, expr query.Expr) ([]query.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.registry == nil {
		return nil, ErrNotProvisioned
	}

	var refs []query.AssetRef
	for _, asset := range s.registry.Assets() {
		lookup := func(externalID string) (fleet.Value, bool) {
			pv, ok := s.values[asset.Address(externalID)]
			return pv.Value, ok
		}
		if expr.Eval(lookup) {
			refs = append(refs, query.AssetRef{AssetID: asset.ID, AssetName: asset.Name})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].AssetName < refs[j].AssetName
	})
	return refs, nil
}

func (s *MemoryStore) Latest(ctx context.Context, address string) (fleet.PropertyValue, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pv, ok := s.values[address]
	return pv, ok, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
