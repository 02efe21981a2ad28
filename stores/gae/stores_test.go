//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/datastore"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/storetest"
)

// The conformance suite needs the Datastore emulator:
//
//	gcloud beta emulators datastore start
//	export DATASTORE_EMULATOR_HOST=localhost:8081
func emulatorClient(t *testing.T) *datastore.Client {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	client, err := datastore.NewClient(context.Background(), "authcore-test")
	if err != nil {
		t.Fatalf("datastore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// each test gets its own namespace so runs do not see each other's entities
func testNamespace(t *testing.T) string {
	return fmt.Sprintf("test-%d", time.Now().UnixNano())
}

func TestAccountStore(t *testing.T) {
	storetest.RunAccountStoreTests(t, func(t *testing.T) ac.AccountStore {
		return NewAccountStore(emulatorClient(t), testNamespace(t))
	})
}

func TestSessionStore(t *testing.T) {
	storetest.RunSessionStoreTests(t, func(t *testing.T) ac.SessionStore {
		return NewSessionStore(emulatorClient(t), testNamespace(t))
	})
}

func TestHandshakeStore(t *testing.T) {
	storetest.RunHandshakeStoreTests(t, func(t *testing.T) ac.HandshakeStore {
		return NewHandshakeStore(emulatorClient(t), testNamespace(t))
	})
}

func TestAccountEntityOptionalFields(t *testing.T) {
	key := datastore.NameKey(KindAccount, "acct-1", nil)

	plain := AccountToEntity(&ac.Account{ID: "acct-1", Handle: "a@example.com", Role: ac.RoleOrdinary}, key)
	got := plain.ToAccount()
	if got.Federated != nil {
		t.Errorf("Federated = %+v, want nil", got.Federated)
	}
	if got.LastAuthenticatedAt != nil {
		t.Errorf("LastAuthenticatedAt = %v, want nil", got.LastAuthenticatedAt)
	}
	if got.ID != "acct-1" {
		t.Errorf("ID = %q, want key name", got.ID)
	}

	login := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	linked := AccountToEntity(&ac.Account{
		ID:                  "acct-1",
		Federated:           &ac.FederatedIdentity{Provider: "github", Subject: "99"},
		LastAuthenticatedAt: &login,
	}, key)
	got = linked.ToAccount()
	if got.Federated == nil || got.Federated.Key() != "github:99" {
		t.Errorf("Federated = %+v", got.Federated)
	}
	if got.LastAuthenticatedAt == nil || !got.LastAuthenticatedAt.Equal(login) {
		t.Errorf("LastAuthenticatedAt = %v", got.LastAuthenticatedAt)
	}
}
