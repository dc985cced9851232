package storage

import (
	"context"
	"time"

	"github.com/caam1406/clawdesk/pkg/storage/repository"
	"github.com/caam1406/clawdesk/pkg/storage/sqlstore"
)

// Storage is the main storage abstraction interface.
// It provides access to different repository interfaces for data persistence.
type Storage interface {
	// Repository accessors
	Conversations() repository.ConversationRepository
	Accounts() repository.AccountRepository

	// Lifecycle management
	Connect(ctx context.Context) error
	Close() error

	// Health check
	Ping(ctx context.Context) error
}

// Config holds storage configuration for different backends.
type Config struct {
	Type         string          // "postgres" or "sqlite"
	FilePath     string          // For sqlite (database file)
	DatabaseURL  string          // For postgres (connection string)
	SSLEnabled   bool            // Enable SSL for database connections
	MaxIdleConns int             // Database connection pool - max idle connections
	MaxOpenConns int             // Database connection pool - max open connections
	MaxLifetime  time.Duration   // Database connection pool - max lifetime
	Sealer       sqlstore.Sealer // Encrypts account codes at rest; nil stores them as given
}

// DefaultConfig returns a default storage configuration.
func DefaultConfig(storageType string) Config {
	return Config{
		Type:         storageType,
		MaxIdleConns: 5,
		MaxOpenConns: 25,
		MaxLifetime:  5 * time.Minute,
	}
}
