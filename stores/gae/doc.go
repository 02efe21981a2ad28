//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the authcore store interfaces.
// It is designed for deployment on Google Cloud Platform and supports multi-tenancy
// through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Account: accounts keyed by account id
//   - AccountHandle: one entity per handle, pointing at its account
//   - AccountFederatedID: one entity per provider identity, pointing at its account
//   - Session: sessions keyed by the SHA-256 of the session id
//   - Handshake: federated login handshakes keyed by state
//
// Every create-if-absent and the handshake consume run in a transaction.
//
// # Namespacing
//
// All stores support Datastore namespaces for multi-tenant applications:
//
//	accounts := gae.NewAccountStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	accounts := gae.NewAccountStore(client, "")  // default namespace
//	sessions := gae.NewSessionStore(client, "")
//	handshakes := gae.NewHandshakeStore(client, "")
package gae
