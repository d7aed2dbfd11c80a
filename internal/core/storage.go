package core

import (
	"context"
	"fmt"
	"os"

	"radoncore/internal/blob"
	blobfs "radoncore/internal/infra/blob/fs"
	blobmem "radoncore/internal/infra/blob/memory"
	blobs3 "radoncore/internal/infra/blob/s3"
	"radoncore/internal/infra/persistence/memory"
	"radoncore/internal/infra/persistence/postgres"
	"radoncore/internal/infra/persistence/sqlite"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	// StorageMemory keeps state in process memory only (tests / ephemeral).
	StorageMemory StorageDriver = "memory"
	// StorageSQLite snapshots state to an embedded sqlite file.
	StorageSQLite StorageDriver = "sqlite"
	// StoragePostgres snapshots state to a PostgreSQL server.
	StoragePostgres StorageDriver = "postgres"
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	RADONCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	RADONCORE_SQLITE_PATH: path to sqlite file (default ./radoncore.db)
//	RADONCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("RADONCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("RADONCORE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("RADONCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenBlobStore selects the certificate document archive backend.
// Defaults to the filesystem driver.
//
//	RADONCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	RADONCORE_BLOB_FS_ROOT: root directory for the fs driver
//	RADONCORE_BLOB_S3_*: see the s3 package for the full list
func OpenBlobStore(ctx context.Context) (blob.Store, error) {
	driver := os.Getenv("RADONCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(blob.DriverFilesystem)
	}
	switch blob.Driver(driver) {
	case blob.DriverFilesystem:
		return blobfs.New(os.Getenv("RADONCORE_BLOB_FS_ROOT"))
	case blob.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	case blob.DriverMemory:
		return blobmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

func newMemoryStore(engine *RulesEngine) *memory.Store {
	return memory.NewStore(engine)
}
