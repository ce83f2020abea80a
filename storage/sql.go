package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/query"
)

// Dialect carries the statements that differ between database engines
type Dialect interface {
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter
	Placeholder(n int) string
	// Schema returns the DDL statements creating the assets and latest_values tables
	Schema() []string
	// UpsertAsset takes asset_id, asset_name, model_name
	UpsertAsset() string
	// UpsertValue takes address, asset_name, external_id, value_kind, string_value,
	// double_value, ts, entry_id and only replaces rows whose ts is not newer
	UpsertValue() string
	// StringEquals compares column to a bound string, byte for byte
	StringEquals(column, placeholder string) string
}

// SQLStore is a Store backed by a relational database.
// Each entry is written by its own statement so that one rejected entry never rolls back the others.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect

	mu       sync.RWMutex
	registry *fleet.Registry
}

// NewSQLStore wraps an open database; InitDatabase must have run against it once
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
	}
}

// InitDatabase creates the tables
func (s *SQLStore) InitDatabase(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create %s tables failed: %w", s.dialect.Name(), err)
		}
	}
	logger.Info("%s tables initialized", s.dialect.Name())
	return nil
}

// Provision upserts every asset of the fleet in one transaction
func (s *SQLStore) Provision(ctx context.Context, registry *fleet.Registry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
			logger.Error("%s provisioning rolled back: %v", s.dialect.Name(), err)
		}
	}()

	for _, asset := range registry.Assets() {
		if _, err = tx.ExecContext(ctx, s.dialect.UpsertAsset(), asset.ID, asset.Name, registry.Model().Name()); err != nil {
			return fmt.Errorf("provision asset %s failed: %w", asset.Name, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}

	s.mu.Lock()
	s.registry = registry
	s.mu.Unlock()

	logger.Info("provisioned %d assets into %s", registry.Len(), s.dialect.Name())
	return nil
}

func (s *SQLStore) BatchWrite(ctx context.Context, entries []Entry) ([]EntryResult, error) {
	s.mu.RLock()
	registry := s.registry
	s.mu.RUnlock()
	if registry == nil {
		return nil, ErrNotProvisioned
	}

	if err := s.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s unreachable: %w", s.dialect.Name(), err)
	}

	stmt, err := s.db.PrepareContext(ctx, s.dialect.UpsertValue())
	if err != nil {
		return nil, fmt.Errorf("prepare upsert failed: %w", err)
	}
	defer stmt.Close()

	results := make([]EntryResult, 0, len(entries))
	for _, entry := range entries {
		if err := checkEntry(registry, entry); err != nil {
			results = append(results, errorResult(entry, err))
			continue
		}
		assetName, externalID, _ := fleet.ParseAddress(entry.Address)
		stringValue, doubleValue := columns(entry.Value)

		_, err := stmt.ExecContext(ctx, entry.Address, assetName, externalID, string(entry.Value.Type),
			stringValue, doubleValue, entry.Timestamp, entry.EntryID)
		if err != nil {
			results = append(results, errorResult(entry, err))
			continue
		}
		results = append(results, okResult(entry))
	}

	logger.Debug("wrote %d entries to %s", len(entries), s.dialect.Name())
	return results, nil
}

// columns splits a value into its nullable string and double columns
func columns(v fleet.Value) (any, any) {
	if v.Type == fleet.Double {
		return nil, v.Double
	}
	return v.String, nil
}

func (s *SQLStore) Select(ctx context.Context, expr query.Expr) ([]query.AssetRef, error) {
	stmt, args, err := CompileSelect(s.dialect, expr)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("select assets failed: %w", err)
	}
	defer rows.Close()

	s.mu.RLock()
	registry := s.registry
	s.mu.RUnlock()

	var refs []query.AssetRef
	for rows.Next() {
		var ref query.AssetRef
		if err := rows.Scan(&ref.AssetID, &ref.AssetName); err != nil {
			return nil, fmt.Errorf("%w: %v", query.ErrMalformedResult, err)
		}
		// rows of assets dropped from the fleet stay in the tables
		if registry != nil {
			if _, ok := registry.Asset(ref.AssetName); !ok {
				logger.Debug("skipping %s, not part of the provisioned fleet", ref.AssetName)
				continue
			}
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read assets failed: %w", err)
	}
	return refs, nil
}

func (s *SQLStore) Latest(ctx context.Context, address string) (fleet.PropertyValue, bool, error) {
	stmt := "SELECT value_kind, string_value, double_value, ts FROM latest_values WHERE address = " + s.dialect.Placeholder(1)

	var (
		kind        string
		stringValue sql.NullString
		doubleValue sql.NullFloat64
		ts          int64
	)
	err := s.db.QueryRowContext(ctx, stmt, address).Scan(&kind, &stringValue, &doubleValue, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return fleet.PropertyValue{}, false, nil
	}
	if err != nil {
		return fleet.PropertyValue{}, false, fmt.Errorf("read %s failed: %w", address, err)
	}

	pv := fleet.PropertyValue{Address: address, Timestamp: ts}
	switch fleet.DataType(kind) {
	case fleet.String:
		pv.Value = fleet.StringValue(stringValue.String)
	case fleet.Double:
		pv.Value = fleet.DoubleValue(doubleValue.Float64)
	default:
		return fleet.PropertyValue{}, false, fmt.Errorf("%w: %s has value kind %q", query.ErrMalformedResult, address, kind)
	}
	return pv, true, nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("close %s connection failed: %w", s.dialect.Name(), err)
		}
		logger.Info("%s connection closed", s.dialect.Name())
	}
	return nil
}

// CompileSelect renders expr as one parameterized statement. Each leaf becomes a subselect
// over latest_values, so only the latest value per (asset, property) is ever read.
func CompileSelect(dialect Dialect, expr query.Expr) (string, []any, error) {
	c := &compiler{dialect: dialect}
	where, err := c.compile(expr)
	if err != nil {
		return "", nil, err
	}
	stmt := "SELECT a.asset_id, a.asset_name FROM assets a WHERE " + where + " ORDER BY a.asset_name"
	return stmt, c.args, nil
}

type compiler struct {
	dialect Dialect
	args    []any
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return c.dialect.Placeholder(len(c.args))
}

func (c *compiler) compile(expr query.Expr) (string, error) {
	switch e := expr.(type) {
	case query.And:
		return c.join([]query.Expr(e), " AND ", "1=1")
	case query.Or:
		return c.join([]query.Expr(e), " OR ", "1=0")
	case query.Equals:
		return c.leaf(e.Property, fleet.String, e.Value, func(p string) string {
			return c.dialect.StringEquals("lv.string_value", p)
		}), nil
	case query.GreaterThan:
		return c.leaf(e.Property, fleet.Double, e.Threshold, func(p string) string {
			return "lv.double_value > " + p
		}), nil
	default:
		return "", fmt.Errorf("%w: unsupported predicate %T", query.ErrInvalidFilter, expr)
	}
}

func (c *compiler) join(exprs []query.Expr, sep, empty string) (string, error) {
	if len(exprs) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		part, err := c.compile(e)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

// leaf binds the external id before the operand
func (c *compiler) leaf(externalID string, kind fleet.DataType, operand any, compare func(placeholder string) string) string {
	property := c.bind(externalID)
	value := c.bind(operand)
	return "a.asset_name IN (SELECT lv.asset_name FROM latest_values lv WHERE lv.external_id = " +
		property + " AND lv.value_kind = '" + string(kind) + "' AND " + compare(value) + ")"
}
