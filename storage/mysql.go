package storage

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/eddielth/turbine-fleet/logger"
)

// MySQLDialect targets MySQL through go-sql-driver/mysql
type MySQLDialect struct{}

func (MySQLDialect) Name() string { return "mysql" }

func (MySQLDialect) Placeholder(int) string { return "?" }

func (MySQLDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS assets (
		asset_id VARCHAR(64) PRIMARY KEY,
		asset_name VARCHAR(255) NOT NULL,
		model_name VARCHAR(255) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uk_asset_name (asset_name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
		`CREATE TABLE IF NOT EXISTS latest_values (
		address VARCHAR(512) PRIMARY KEY,
		asset_name VARCHAR(255) NOT NULL,
		external_id VARCHAR(255) NOT NULL,
		value_kind VARCHAR(16) NOT NULL,
		string_value TEXT,
		double_value DOUBLE,
		ts BIGINT NOT NULL,
		entry_id VARCHAR(512) NOT NULL,
		INDEX idx_latest_values_property (external_id, value_kind)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	}
}

func (MySQLDialect) UpsertAsset() string {
	return `INSERT INTO assets (asset_id, asset_name, model_name) VALUES (?, ?, ?)
	ON DUPLICATE KEY UPDATE asset_id = VALUES(asset_id), model_name = VALUES(model_name)`
}

// UpsertValue assigns ts last so that every IF still compares against the stored timestamp
func (MySQLDialect) UpsertValue() string {
	return `INSERT INTO latest_values (address, asset_name, external_id, value_kind, string_value, double_value, ts, entry_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		value_kind = IF(VALUES(ts) >= ts, VALUES(value_kind), value_kind),
		string_value = IF(VALUES(ts) >= ts, VALUES(string_value), string_value),
		double_value = IF(VALUES(ts) >= ts, VALUES(double_value), double_value),
		entry_id = IF(VALUES(ts) >= ts, VALUES(entry_id), entry_id),
		ts = GREATEST(ts, VALUES(ts))`
}

// StringEquals compares as BINARY so that case and trailing spaces are significant
func (MySQLDialect) StringEquals(column, placeholder string) string {
	return "BINARY " + column + " = " + placeholder
}

// NewMySQLStore creates the database when missing, then the tables
func NewMySQLStore(dsn string) (*SQLStore, error) {
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse MySQL DSN failed: %w", err)
	}

	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("connect MySQL server failed: %w", err)
	}
	defer serverDB.Close()

	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_bin", database))
	if err != nil {
		return nil, fmt.Errorf("create database failed: %w", err)
	}
	logger.Info("ensured MySQL database %s exists", database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect MySQL database failed: %w", err)
	}
	return openStore(db, MySQLDialect{})
}

// parseMySQLDSN extracts the database name and a DSN without it
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid DSN, cannot extract database name")
	}

	dbParts := strings.Split(parts[len(parts)-1], "?")
	database = dbParts[0]
	if database == "" {
		return "", "", fmt.Errorf("invalid DSN, cannot extract database name")
	}

	serverDSN = strings.Join(parts[:len(parts)-1], "/") + "/"
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}

	return database, serverDSN, nil
}
