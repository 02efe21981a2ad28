package authcore_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/stores/memory"
)

// testClock is a settable clock shared by every component of a test core.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	Core       *ac.Core
	Clock      *testClock
	Accounts   *memory.AccountStore
	Sessions   *memory.SessionStore
	Handshakes *memory.HandshakeStore
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupCore builds a Core over fresh memory stores. bcrypt runs at its
// minimum cost to keep the tests fast.
func setupCore(t *testing.T, tweak ...func(*ac.Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		Clock:      newTestClock(),
		Accounts:   memory.NewAccountStore(),
		Sessions:   memory.NewSessionStore(),
		Handshakes: memory.NewHandshakeStore(),
	}
	cfg := ac.Config{
		SigningSecret: []byte("test-signing-secret-0123456789abcdef"),
		PasswordCost:  bcrypt.MinCost,
		Now:           env.Clock.Now,
		Logger:        quietLogger(),
	}
	for _, fn := range tweak {
		fn(&cfg)
	}
	core, err := ac.New(cfg, ac.Stores{
		Accounts:   env.Accounts,
		Sessions:   env.Sessions,
		Handshakes: env.Handshakes,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.Core = core
	return env
}

func mustRegister(t *testing.T, env *testEnv, handle, password string) *ac.Account {
	t.Helper()
	account, err := env.Core.Register(context.Background(), handle, password, ac.Profile{})
	if err != nil {
		t.Fatalf("Register(%s): %v", handle, err)
	}
	return account
}

// fakeProvider is an IdentityProvider whose exchange result is set by the test.
type fakeProvider struct {
	name string

	mu       sync.Mutex
	identity *ac.ProviderIdentity
	err      error
	delay    time.Duration

	exchanges atomic.Int32
	lastCode  atomic.Value
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name}
}

func (p *fakeProvider) Name() string     { return p.name }
func (p *fakeProvider) Scopes() []string { return []string{"openid", "email"} }

func (p *fakeProvider) AuthCodeURL(h *ac.Handshake) string {
	return fmt.Sprintf("https://idp.example.com/%s/authorize?state=%s", p.name, h.State)
}

func (p *fakeProvider) assert(identity ac.ProviderIdentity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity, p.err = &identity, nil
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identity, p.err = nil, err
}

func (p *fakeProvider) Exchange(ctx context.Context, code string, h *ac.Handshake) (*ac.ProviderIdentity, error) {
	p.exchanges.Add(1)
	p.lastCode.Store(code)
	p.mu.Lock()
	identity, err, delay := p.identity, p.err, p.delay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, errors.New("no identity configured")
	}
	out := *identity
	return &out, nil
}

// flakyAccounts fails UpdateAccount while failing is set.
type flakyAccounts struct {
	ac.AccountStore
	failing atomic.Bool
}

func (f *flakyAccounts) UpdateAccount(ctx context.Context, account *ac.Account) error {
	if f.failing.Load() {
		return errors.New("store unavailable")
	}
	return f.AccountStore.UpdateAccount(ctx, account)
}
