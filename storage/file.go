package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/logger"
)

// FileMirror writes every accepted batch as JSON, one file per asset and cycle timestamp
type FileMirror struct {
	basePath string
}

// NewFileMirror
func NewFileMirror(basePath string) (*FileMirror, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	logger.Info("init file mirror: %s", basePath)
	return &FileMirror{
		basePath: basePath,
	}, nil
}

// Mirror saves entries to {basePath}/{assetName}/{timestamp}.json
func (fm *FileMirror) Mirror(ctx context.Context, entries []Entry) error {
	type fileKey struct {
		asset     string
		timestamp int64
	}
	groups := make(map[fileKey][]Entry)
	var order []fileKey
	for _, entry := range entries {
		assetName, _, err := fleet.ParseAddress(entry.Address)
		if err != nil {
			return err
		}
		key := fileKey{asset: assetName, timestamp: entry.Timestamp}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], entry)
	}

	for _, key := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fm.write(key.asset, key.timestamp, groups[key]); err != nil {
			return err
		}
	}
	return nil
}

func (fm *FileMirror) write(assetName string, timestamp int64, entries []Entry) error {
	assetDir := filepath.Join(fm.basePath, assetName)
	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return fmt.Errorf("create dir %s failed: %w", assetDir, err)
	}

	name := time.Unix(timestamp, 0).UTC().Format("20060102-150405")
	filename := filepath.Join(assetDir, fmt.Sprintf("%s.json", name))

	jsonData, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize entries failed: %w", err)
	}

	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("write file %s failed: %w", filename, err)
	}

	logger.Debug("has mirrored %d entries to file: %s", len(entries), filename)
	return nil
}

// Close implement Mirror
func (fm *FileMirror) Close() error {
	return nil
}
