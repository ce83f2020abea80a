package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/storage"
)

// ValueMirror publishes every accepted entry as a retained message, so a subscriber to
// {prefix}/values/# always sees the latest value of each address
type ValueMirror struct {
	transport Transport
	topics    Topics

	mu        sync.Mutex
	published map[string]int64
}

func NewValueMirror(transport Transport, prefix string) *ValueMirror {
	return &ValueMirror{
		transport: transport,
		topics:    Topics{Prefix: prefix},
		published: make(map[string]int64),
	}
}

func (v *ValueMirror) Mirror(ctx context.Context, entries []storage.Entry) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	var errs error
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		// same last-write-wins rule as the store, the retained message must not go back in time
		if ts, ok := v.published[entry.Address]; ok && entry.Timestamp < ts {
			continue
		}

		payload, err := json.Marshal(fleet.PropertyValue{
			Address:   entry.Address,
			Value:     entry.Value,
			Timestamp: entry.Timestamp,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("encode %s: %w", entry.Address, err))
			continue
		}
		if err := v.transport.Publish(v.topics.Value(entry.Address), payload, true); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("publish %s: %w", entry.Address, err))
			continue
		}
		v.published[entry.Address] = entry.Timestamp
	}
	return errs
}

func (v *ValueMirror) Close() error {
	return nil
}
