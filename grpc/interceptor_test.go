package grpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/memory"
)

type fixture struct {
	core       *ac.Core
	userToken  string
	adminToken string
	session    string
	user       *ac.Account
}

func setup(t *testing.T) *fixture {
	t.Helper()
	core, err := ac.New(ac.Config{
		PasswordCost: bcrypt.MinCost,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, ac.Stores{Accounts: memory.NewAccountStore(), Sessions: memory.NewSessionStore()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	user, err := core.Register(ctx, "user@example.com", "password1", ac.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	admin, err := core.Register(ctx, "admin@example.com", "password1", ac.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := core.SetRole(ctx, admin.ID, ac.RoleAdministrative); err != nil {
		t.Fatal(err)
	}
	f := &fixture{core: core, user: user}
	f.userToken, _ = core.IssueToken(user.ID)
	f.adminToken, _ = core.IssueToken(admin.ID)
	f.session, _ = core.CreateSession(ctx, user.ID)
	return f
}

func withToken(token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(context.Background(), md)
}

func withSession(id string) context.Context {
	md := metadata.Pairs("x-session-id", id)
	return metadata.NewIncomingContext(context.Background(), md)
}

func callUnary(t *testing.T, interceptor grpc.UnaryServerInterceptor, ctx context.Context, method string) (*ac.Account, error) {
	t.Helper()
	var seen *ac.Account
	_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, req interface{}) (interface{}, error) {
		seen = AccountFromContext(ctx)
		return "ok", nil
	})
	return seen, err
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != want {
		t.Errorf("expected %v, got %v", want, st.Code())
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig(nil, "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
	if OptionalAuthConfig(nil).RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func TestUnaryAuthInterceptor_RequireAuth(t *testing.T) {
	f := setup(t)
	interceptor := UnaryAuthInterceptor(DefaultInterceptorConfig(f.core))

	_, err := callUnary(t, interceptor, context.Background(), "/pkg.Svc/Method")
	assertCode(t, err, codes.Unauthenticated)

	_, err = callUnary(t, interceptor, withToken("forged"), "/pkg.Svc/Method")
	assertCode(t, err, codes.Unauthenticated)

	account, err := callUnary(t, interceptor, withToken(f.userToken), "/pkg.Svc/Method")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if account == nil || account.ID != f.user.ID {
		t.Errorf("expected account %s in handler context, got %+v", f.user.ID, account)
	}

	account, err = callUnary(t, interceptor, withSession(f.session), "/pkg.Svc/Method")
	if err != nil || account == nil || account.ID != f.user.ID {
		t.Errorf("session call: account=%+v err=%v", account, err)
	}
}

func TestUnaryAuthInterceptor_PublicMethod(t *testing.T) {
	f := setup(t)
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig(f.core, "/pkg.Svc/Health"))

	account, err := callUnary(t, interceptor, context.Background(), "/pkg.Svc/Health")
	if err != nil {
		t.Fatalf("public method rejected: %v", err)
	}
	if account != nil {
		t.Error("expected anonymous caller")
	}
	// a public method still sees who is calling
	account, _ = callUnary(t, interceptor, withToken(f.userToken), "/pkg.Svc/Health")
	if account == nil {
		t.Error("expected account on a public method")
	}
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	f := setup(t)
	interceptor := UnaryAuthInterceptor(OptionalAuthConfig(f.core))
	if _, err := callUnary(t, interceptor, context.Background(), "/pkg.Svc/Method"); err != nil {
		t.Errorf("optional auth rejected anonymous call: %v", err)
	}
}

func TestUnaryAuthInterceptor_MethodRoles(t *testing.T) {
	f := setup(t)
	config := OptionalAuthConfig(f.core)
	config.MethodRoles["/pkg.Admin/Purge"] = ac.RoleAdministrative
	interceptor := UnaryAuthInterceptor(config)

	_, err := callUnary(t, interceptor, context.Background(), "/pkg.Admin/Purge")
	assertCode(t, err, codes.Unauthenticated)

	_, err = callUnary(t, interceptor, withToken(f.userToken), "/pkg.Admin/Purge")
	assertCode(t, err, codes.PermissionDenied)

	if _, err := callUnary(t, interceptor, withToken(f.adminToken), "/pkg.Admin/Purge"); err != nil {
		t.Errorf("admin rejected: %v", err)
	}
}

type failingAuth struct{}

func (failingAuth) Authenticate(context.Context, ac.Proof) (ac.Principal, error) {
	return ac.Principal{}, errors.New("store down")
}

func TestUnaryAuthInterceptor_StoreFailure(t *testing.T) {
	config := OptionalAuthConfig(failingAuth{})
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := callUnary(t, UnaryAuthInterceptor(config), context.Background(), "/pkg.Svc/Method")
	assertCode(t, err, codes.Internal)
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	f := setup(t)
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(f.core))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Watch"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(srv interface{}, stream grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	assertCode(t, err, codes.Unauthenticated)

	var seen *ac.Account
	err = interceptor(nil, &mockServerStream{ctx: withToken(f.userToken)}, info, func(srv interface{}, stream grpc.ServerStream) error {
		seen = AccountFromContext(stream.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen == nil || seen.ID != f.user.ID {
		t.Errorf("expected account %s on the stream context, got %+v", f.user.ID, seen)
	}
}
