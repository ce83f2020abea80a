// Package ingest packages generated samples into batched writes against the latest-value store.
package ingest

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/generator"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/storage"
)

// Writer is the write half of the latest-value store
type Writer interface {
	BatchWrite(ctx context.Context, entries []storage.Entry) ([]storage.EntryResult, error)
}

// Report is the outcome of one batch write
type Report struct {
	Timestamp int64          `json:"timestamp"`
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    []EntryFailure `json:"failed,omitempty"`
}

// EntryID is unique per asset, property and timestamp
func EntryID(assetName, externalID string, timestamp int64) string {
	return assetName + "-" + externalID + "-" + strconv.FormatInt(timestamp, 10)
}

// BuildEntries turns a cycle into one entry per sample, all stamped with the cycle timestamp
func BuildEntries(cycle generator.Cycle) ([]storage.Entry, error) {
	entries := make([]storage.Entry, 0, len(cycle.Samples))
	seen := make(map[string]string, len(cycle.Samples))

	for _, s := range cycle.Samples {
		id := EntryID(s.AssetName, s.Property.ExternalID, cycle.Timestamp)
		if other, dup := seen[id]; dup {
			return nil, fmt.Errorf("entry id %s produced by both %s and %s", id, other, s.Address)
		}
		seen[id] = s.Address

		entries = append(entries, storage.Entry{
			EntryID:   id,
			Address:   s.Address,
			Value:     s.Value,
			Timestamp: cycle.Timestamp,
		})
	}
	return entries, nil
}

// Batcher issues one batch write per cycle. It never retries; the next cycle is the retry.
type Batcher struct {
	store Writer
}

func NewBatcher(store Writer) *Batcher {
	return &Batcher{store: store}
}

// Write stores the cycle. A rejected entry does not stop the others: the result is a
// *PartialWriteError when some entries fail and a *FullWriteError when none succeed.
func (b *Batcher) Write(ctx context.Context, cycle generator.Cycle) (Report, error) {
	report := Report{Timestamp: cycle.Timestamp, Total: len(cycle.Samples)}

	entries, err := BuildEntries(cycle)
	if err != nil {
		return report, &FullWriteError{Timestamp: cycle.Timestamp, Total: report.Total, Cause: err}
	}
	if len(entries) == 0 {
		return report, nil
	}

	results, err := b.store.BatchWrite(ctx, entries)
	if err != nil {
		logger.Error("batch write of %d entries at %d failed: %v", len(entries), cycle.Timestamp, err)
		return report, &FullWriteError{Timestamp: cycle.Timestamp, Total: report.Total, Cause: err}
	}
	if len(results) != len(entries) {
		err := fmt.Errorf("store returned %d results for %d entries", len(results), len(entries))
		return report, &FullWriteError{Timestamp: cycle.Timestamp, Total: report.Total, Cause: err}
	}

	for i, result := range results {
		if result.OK() {
			report.Succeeded++
			continue
		}
		failure := EntryFailure{
			EntryID: entries[i].EntryID,
			Address: entries[i].Address,
			Reason:  result.ErrorDetail,
		}
		report.Failed = append(report.Failed, failure)
		logger.Warn("entry %s rejected: %s", failure.EntryID, failure.Reason)
	}

	switch {
	case len(report.Failed) == 0:
		return report, nil
	case report.Succeeded == 0:
		var cause error
		for _, f := range report.Failed {
			cause = multierr.Append(cause, f)
		}
		return report, &FullWriteError{Timestamp: cycle.Timestamp, Total: report.Total, Cause: cause}
	default:
		return report, &PartialWriteError{Timestamp: cycle.Timestamp, Total: report.Total, Failures: report.Failed}
	}
}
