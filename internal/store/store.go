// Package store is the gateway's read/write surface over the shared
// relational store. Key, policy, and routing-policy records are owned by the
// external management plane and are read-only here; the usage ledger is the
// one table the gateway writes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = gorm.ErrRecordNotFound

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store wraps the gorm connection with the gateway's query surface.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and runs schema migration.
// driver is "postgres" for production or "sqlite" for local/dev and tests
// (dsn ":memory:" gives an in-process throwaway database).
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q (must be postgres or sqlite)", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}

	if err := db.AutoMigrate(
		&GatewayKey{},
		&RoutingPolicy{},
		&Policy{},
		&GatewayRequest{},
	); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies connectivity (used by the readiness probe).
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetKeyByHash looks up a gateway key by the SHA-256 hex hash of its secret.
// The key_hash column is uniquely indexed, so this is a single index probe.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*GatewayKey, error) {
	var key GatewayKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", hash).First(&key).Error
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetRoutingPolicy returns the org's active routing policy with the given
// name, or ErrNotFound.
func (s *Store) GetRoutingPolicy(ctx context.Context, orgID, name string) (*RoutingPolicy, error) {
	var rp RoutingPolicy
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND name = ? AND is_active = ?", orgID, name, true).
		First(&rp).Error
	if err != nil {
		return nil, err
	}
	return &rp, nil
}

// GetPolicy returns the org's enabled policy of the given type, or
// ErrNotFound when the org has none (which means "no restriction").
func (s *Store) GetPolicy(ctx context.Context, orgID, policyType string) (*Policy, error) {
	var p Policy
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND type = ? AND enabled = ?", orgID, policyType, true).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DailySpend sums ledger cost for the org over the UTC calendar day
// containing now. This is a point-in-time aggregate: concurrent in-flight
// requests are not serialized against it.
func (s *Store) DailySpend(ctx context.Context, orgID string, now time.Time) (float64, error) {
	dayStart := now.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total float64
	err := s.db.WithContext(ctx).
		Model(&GatewayRequest{}).
		Where("org_id = ? AND created_at >= ? AND created_at < ?", orgID, dayStart, dayEnd).
		Select("COALESCE(SUM(cost), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// InsertRequests appends a batch of ledger rows. Rows are never updated or
// deleted afterwards.
func (s *Store) InsertRequests(ctx context.Context, rows []GatewayRequest) error {
	if len(rows) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&rows).Error
}

// RequestsByOrg returns the org's ledger rows oldest-first (fixtures/tests).
func (s *Store) RequestsByOrg(ctx context.Context, orgID string) ([]GatewayRequest, error) {
	var rows []GatewayRequest
	err := s.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CreateKey inserts a key record. The management surface owns key creation;
// this exists for fixtures and integration tests.
func (s *Store) CreateKey(ctx context.Context, key *GatewayKey) error {
	return s.db.WithContext(ctx).Create(key).Error
}

// CreateRoutingPolicy inserts a routing policy (fixtures/tests).
func (s *Store) CreateRoutingPolicy(ctx context.Context, rp *RoutingPolicy) error {
	return s.db.WithContext(ctx).Create(rp).Error
}

// CreatePolicy inserts a governance policy (fixtures/tests).
func (s *Store) CreatePolicy(ctx context.Context, p *Policy) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
