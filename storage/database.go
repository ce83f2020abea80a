package storage

import (
	"fmt"
)

// DatabaseType names a storage backend
type DatabaseType string

const (
	// Memory keeps values in process memory
	Memory DatabaseType = "memory"
	// MySQL
	MySQL DatabaseType = "mysql"
	// PostgreSQL
	PostgreSQL DatabaseType = "postgresql"
	// SQLite
	SQLite DatabaseType = "sqlite"
)

// NewDatabaseStore opens a SQL backend and creates its tables
func NewDatabaseStore(dbType string, dsn string) (*SQLStore, error) {
	switch DatabaseType(dbType) {
	case MySQL:
		return NewMySQLStore(dsn)
	case PostgreSQL:
		return NewPostgreSQLStore(dsn)
	case SQLite:
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Open builds the configured primary store
func Open(backend string, dsn string) (Store, error) {
	if backend == "" || DatabaseType(backend) == Memory {
		return NewMemoryStore(), nil
	}
	return NewDatabaseStore(backend, dsn)
}
