//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the authcore store interfaces.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - accounts: one row per handle; unique indexes on handle and federated_key
//   - sessions: keyed by the SHA-256 of the session id
//   - handshakes: pending and consumed federated login handshakes
//
// Create-if-absent relies on those unique keys, account updates are
// conditional on the row version and a handshake is consumed by a single
// conditional UPDATE. Open the database with gorm.Config{TranslateError: true}
// so duplicate keys surface as gorm.ErrDuplicatedKey.
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	gormstore.AutoMigrate(db)
//	accounts := gormstore.NewAccountStore(db)
//	sessions := gormstore.NewSessionStore(db)
//	handshakes := gormstore.NewHandshakeStore(db)
package gorm
