// Package authcore establishes who a caller is and what they may do.
//
// Accounts are identified by a handle (an email address) and can hold a local
// password, a federated identity asserted by an OAuth provider, or both.
// A caller proves its identity with either a stateless bearer token (an HS256
// JWT) or a stateful server-side session; both stay valid side by side.
//
// # Architecture
//
// LocalAuthenticator: registers accounts and checks passwords (bcrypt).
//
// FederatedAuthenticator: runs the OAuth authorization code handshake with an
// IdentityProvider (see the oauth2 subpackage) and reconciles the asserted
// identity with existing accounts, linking by handle when the provider vouches
// for the email.
//
// TokenIssuer and SessionManager: mint and resolve the two kinds of proof.
//
// Guard: turns a Proof into a Principal and checks roles. A bearer token always
// wins over a session cookie.
//
// Persistence is behind AccountStore, SessionStore and HandshakeStore. The
// stores subpackages provide in-memory, filesystem, GORM, Datastore and scs
// backed implementations.
//
// # Basic Usage
//
//	core, err := authcore.New(authcore.Config{SigningSecret: secret}, authcore.Stores{
//	    Accounts:   store,
//	    Sessions:   store,
//	    Handshakes: store,
//	})
//	account, err := core.Register(ctx, "ada@example.com", "s3cret!", authcore.Profile{})
//	token, err := core.IssueToken(account.ID)
//	sessionID, err := core.CreateSession(ctx, account.ID)
//
// Protect HTTP handlers:
//
//	mw := &authcore.Middleware{Auth: core}
//	router.Handle("/admin", mw.RequireRole(authcore.RoleAdministrative)(adminHandler))
//
// The httpauth subpackage serves register, login, logout and the federated
// callback routes on top of a Core.
package authcore
