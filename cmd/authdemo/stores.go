package main

import (
	"context"
	"fmt"
	"path/filepath"

	"cloud.google.com/go/datastore"
	"github.com/alexedwards/scs/v2/memstore"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/fs"
	"github.com/panyam/authcore/stores/gae"
	gormstore "github.com/panyam/authcore/stores/gorm"
	"github.com/panyam/authcore/stores/memory"
	scsstore "github.com/panyam/authcore/stores/scs"
)

// openStores returns the stores of the selected backend and a func that
// releases them.
func openStores(ctx context.Context, flags *globalFlags, scsSessions bool) (ac.Stores, func(), error) {
	var stores ac.Stores
	closer := func() {}

	switch flags.store {
	case "memory":
		stores = ac.Stores{
			Accounts:   memory.NewAccountStore(),
			Sessions:   memory.NewSessionStore(),
			Handshakes: memory.NewHandshakeStore(),
		}
	case "fs":
		dir, err := filepath.Abs(flags.dataDir)
		if err != nil {
			return stores, nil, err
		}
		stores = ac.Stores{
			Accounts:   fs.NewFSAccountStore(dir),
			Sessions:   fs.NewFSSessionStore(dir),
			Handshakes: fs.NewFSHandshakeStore(dir),
		}
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(flags.dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			return stores, nil, fmt.Errorf("opening %s: %w", flags.dsn, err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return stores, nil, fmt.Errorf("migrating %s: %w", flags.dsn, err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return stores, nil, err
		}
		closer = func() { sqlDB.Close() }
		stores = ac.Stores{
			Accounts:   gormstore.NewAccountStore(db),
			Sessions:   gormstore.NewSessionStore(db),
			Handshakes: gormstore.NewHandshakeStore(db),
		}
	case "datastore":
		if flags.projectID == "" {
			return stores, nil, fmt.Errorf("%w: --project or DATASTORE_PROJECT_ID is required", ac.ErrConfig)
		}
		client, err := datastore.NewClient(ctx, flags.projectID)
		if err != nil {
			return stores, nil, fmt.Errorf("datastore client: %w", err)
		}
		closer = func() { client.Close() }
		stores = ac.Stores{
			Accounts:   gae.NewAccountStore(client, flags.namespace),
			Sessions:   gae.NewSessionStore(client, flags.namespace),
			Handshakes: gae.NewHandshakeStore(client, flags.namespace),
		}
	default:
		return stores, nil, fmt.Errorf("%w: unknown store %q", ac.ErrConfig, flags.store)
	}

	if scsSessions {
		// memstore sweeps on its own; authcore's sweep covers the rest
		stores.Sessions = scsstore.NewSessionStore(memstore.New())
	}
	return stores, closer, nil
}
