// Package backend selects a storage.Store implementation by driver name.
package backend

import (
	"context"
	"fmt"

	"github.com/hongminglow/all-in-floor/internal/storage"
	"github.com/hongminglow/all-in-floor/internal/storage/gormstore"
	"github.com/hongminglow/all-in-floor/internal/storage/memory"
	"github.com/hongminglow/all-in-floor/internal/storage/postgres"
)

const (
	DriverPostgres = "postgres"
	DriverGorm     = "gorm"
	DriverMemory   = "memory"
)

// Open returns a ready store for driver. databaseURL is ignored by memory.
func Open(ctx context.Context, driver, databaseURL string) (storage.Store, error) {
	switch driver {
	case DriverPostgres, "":
		return postgres.NewStore(ctx, databaseURL)
	case DriverGorm:
		return gormstore.Open(databaseURL)
	case DriverMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
