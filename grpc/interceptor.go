package grpc

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Auth resolves proofs. An *authcore.Core or *authcore.Guard.
	Auth ac.Authenticator

	// RequireAuth when true rejects anonymous calls to methods that are
	// not public.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// MethodRoles lists methods gated on a role. A role requirement applies
	// even when RequireAuth is false.
	MethodRoles map[string]ac.Role

	Logger *slog.Logger
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(auth ac.Authenticator) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Auth:          auth,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
		MethodRoles:   make(map[string]ac.Role),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(auth ac.Authenticator, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(auth)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows anonymous calls.
func OptionalAuthConfig(auth ac.Authenticator) *InterceptorConfig {
	config := DefaultInterceptorConfig(auth)
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() {
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
}

// authorize resolves the caller of method and returns ctx carrying its
// Principal, or a status error.
func (config *InterceptorConfig) authorize(ctx context.Context, method string) (context.Context, error) {
	p, err := config.Auth.Authenticate(ctx, ProofFromContext(ctx, config.Config))
	if err != nil {
		config.Logger.Error("authentication failed", "method", method, "err", err)
		return nil, status.Error(codes.Internal, "authentication unavailable")
	}
	ctx = ac.WithPrincipal(ctx, p)

	role, gated := config.MethodRoles[method]
	if !gated {
		if !config.RequireAuth || config.PublicMethods[method] {
			return ctx, nil
		}
		role = ac.RoleOrdinary
	}
	switch err := ac.RequireRole(p.Account, role); {
	case errors.Is(err, ac.ErrUnauthenticated):
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	case errors.Is(err, ac.ErrForbidden):
		return nil, status.Errorf(codes.PermissionDenied, "%s role required", role)
	}
	return ctx, nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates
// each call and stores the Principal in its context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStream overrides the context of a server stream.
type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

// StreamAuthInterceptor returns a gRPC stream interceptor that authenticates
// each stream and stores the Principal in its context.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}
