package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	ac "github.com/panyam/authcore"
	scsstore "github.com/panyam/authcore/stores/scs"
)

func TestOpenStores(t *testing.T) {
	dir := t.TempDir()
	for _, store := range []string{"memory", "fs", "sqlite"} {
		t.Run(store, func(t *testing.T) {
			flags := &globalFlags{store: store, dataDir: dir, dsn: filepath.Join(dir, "test.db")}
			stores, closer, err := openStores(context.Background(), flags, false)
			if err != nil {
				t.Fatal(err)
			}
			defer closer()
			if stores.Accounts == nil || stores.Sessions == nil || stores.Handshakes == nil {
				t.Fatalf("incomplete stores: %+v", stores)
			}
			if _, err := ac.New(ac.Config{}, stores); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestOpenStoresSCSSessions(t *testing.T) {
	stores, closer, err := openStores(context.Background(), &globalFlags{store: "memory"}, true)
	if err != nil {
		t.Fatal(err)
	}
	defer closer()
	if _, ok := stores.Sessions.(*scsstore.SessionStore); !ok {
		t.Errorf("sessions = %T", stores.Sessions)
	}
}

func TestOpenStoresRejectsBadBackend(t *testing.T) {
	for _, flags := range []*globalFlags{{store: "redis"}, {store: "datastore"}} {
		if _, _, err := openStores(context.Background(), flags, false); !errors.Is(err, ac.ErrConfig) {
			t.Errorf("%s: err = %v", flags.store, err)
		}
	}
}
