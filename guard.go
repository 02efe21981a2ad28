package authcore

import (
	"context"
	"errors"
	"log/slog"
)

// Method says which proof established a Principal.
type Method int

const (
	MethodNone Method = iota
	MethodToken
	MethodSession
)

func (m Method) String() string {
	switch m {
	case MethodToken:
		return "token"
	case MethodSession:
		return "session"
	default:
		return "none"
	}
}

// Proof is what a request presents to identify itself. Either field may be empty.
type Proof struct {
	BearerToken string
	SessionID   string
}

// Principal is the outcome of authentication. A nil Account means Anonymous.
type Principal struct {
	Account *Account
	Method  Method
}

// Anonymous reports whether no account was resolved.
func (p Principal) Anonymous() bool {
	return p.Account == nil
}

// Guard resolves proofs to accounts and checks roles.
type Guard struct {
	Tokens   *TokenIssuer
	Sessions *SessionManager
	Accounts AccountStore
	Logger   *slog.Logger
	Metrics  *Metrics
}

func (g *Guard) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

// Authenticate resolves a Proof. A bearer token takes precedence over a
// session; when a token is presented the session is not consulted, even if
// the token is invalid. Unknown or inactive accounts resolve to Anonymous.
// The error is non-nil only for store failures.
func (g *Guard) Authenticate(ctx context.Context, proof Proof) (Principal, error) {
	var accountID string
	var method Method
	switch {
	case proof.BearerToken != "":
		id, err := g.Tokens.Verify(proof.BearerToken)
		g.Metrics.token("verify", err)
		if err != nil {
			g.logger().Debug("rejected bearer token", "err", err)
			return Principal{}, nil
		}
		accountID, method = id, MethodToken
	case proof.SessionID != "":
		id, err := g.Sessions.Resolve(ctx, proof.SessionID)
		if errors.Is(err, ErrInvalid) {
			return Principal{}, nil
		}
		if err != nil {
			return Principal{}, err
		}
		accountID, method = id, MethodSession
	default:
		return Principal{}, nil
	}

	account, err := g.Accounts.GetAccountByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return Principal{}, nil
	}
	if err != nil {
		return Principal{}, err
	}
	if !account.Active {
		return Principal{}, nil
	}
	return Principal{Account: account, Method: method}, nil
}

// RequireRole checks that account holds role. Administrative satisfies every role.
func RequireRole(account *Account, role Role) error {
	if account == nil {
		return ErrUnauthenticated
	}
	if account.Role == RoleAdministrative || account.Role == role {
		return nil
	}
	return ErrForbidden
}
