// Package grpc carries authcore authentication over gRPC: proofs travel as
// metadata, and server interceptors resolve them to a Principal.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	ac "github.com/panyam/authcore"
)

// Default metadata keys. gRPC lowercases all keys.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <token>".
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeySession carries a session id.
	DefaultMetadataKeySession = "x-session-id"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization defaults to "authorization".
	MetadataKeyAuthorization string

	// MetadataKeySession defaults to "x-session-id".
	MetadataKeySession string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeySession:       DefaultMetadataKeySession,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeySession == "" {
		c.MetadataKeySession = DefaultMetadataKeySession
	}
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// ProofFromContext reads the bearer token and session id of an incoming call.
func ProofFromContext(ctx context.Context, config *Config) ac.Proof {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ac.Proof{}
	}
	var proof ac.Proof
	if scheme, token, ok := strings.Cut(first(md, config.MetadataKeyAuthorization), " "); ok && strings.EqualFold(scheme, "Bearer") {
		proof.BearerToken = strings.TrimSpace(token)
	}
	proof.SessionID = first(md, config.MetadataKeySession)
	return proof
}

// AccountFromContext returns the account resolved by the interceptors, or nil.
func AccountFromContext(ctx context.Context) *ac.Account {
	return ac.AccountFromContext(ctx)
}

// IsAuthenticated returns true if the interceptors resolved an account.
func IsAuthenticated(ctx context.Context) bool {
	return AccountFromContext(ctx) != nil
}

// TokenToOutgoingContext attaches a bearer token to outgoing calls.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// SessionToOutgoingContext attaches a session id to outgoing calls.
func SessionToOutgoingContext(ctx context.Context, sessionID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySession, sessionID)
}
