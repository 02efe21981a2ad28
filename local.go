package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMinPasswordLength is the shortest password Register accepts.
const DefaultMinPasswordLength = 6

// LocalAuthenticator registers and logs in accounts holding a password.
type LocalAuthenticator struct {
	Accounts          AccountStore
	Hasher            *PasswordHasher
	MinPasswordLength int
	Now               func() time.Time
	Logger            *slog.Logger
	Metrics           *Metrics

	// digest compared against when there is no real one, so that an unknown
	// handle costs the same as a wrong password
	dummyDigest string
}

// NewLocalAuthenticator prepares a LocalAuthenticator. It fails only if the
// system entropy source fails.
func NewLocalAuthenticator(accounts AccountStore, hasher *PasswordHasher) (*LocalAuthenticator, error) {
	if hasher == nil {
		hasher = &PasswordHasher{}
	}
	seed, err := GenerateSecureToken()
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(seed[:32])
	if err != nil {
		return nil, err
	}
	return &LocalAuthenticator{
		Accounts:    accounts,
		Hasher:      hasher,
		dummyDigest: dummy,
	}, nil
}

func (l *LocalAuthenticator) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}

func (l *LocalAuthenticator) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

// CheckPassword applies the password policy.
func (l *LocalAuthenticator) CheckPassword(password string) error {
	minLen := l.MinPasswordLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if len(password) < minLen {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakCredential, minLen)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakCredential, MaxPasswordLength)
	}
	return nil
}

// Register creates an ordinary, active account holding a local password.
func (l *LocalAuthenticator) Register(ctx context.Context, handle, password string, profile Profile) (account *Account, err error) {
	defer func() { l.Metrics.registration(err) }()

	handle = NormalizeHandle(handle)
	if err := ValidateHandle(handle); err != nil {
		return nil, err
	}
	if err := l.CheckPassword(password); err != nil {
		return nil, err
	}
	digest, err := l.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := l.now()
	account = &Account{
		ID:           newAccountID(),
		Handle:       handle,
		PasswordHash: digest,
		DisplayName:  strings.TrimSpace(profile.DisplayName),
		AvatarURL:    profile.AvatarURL,
		Role:         RoleOrdinary,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if account.DisplayName == "" {
		account.DisplayName = handle[:strings.Index(handle, "@")]
	}
	if err := l.Accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	l.logger().Info("registered local account", "account", account.ID, "handle", handle)
	return account, nil
}

// Login verifies a handle and password. Unknown handles, inactive accounts,
// accounts without a password and wrong passwords all return ErrInvalidCredential.
func (l *LocalAuthenticator) Login(ctx context.Context, handle, password string) (account *Account, err error) {
	defer func() { l.Metrics.login("local", err) }()

	account, err = l.Accounts.GetAccountByHandle(ctx, NormalizeHandle(handle))
	if errors.Is(err, ErrAccountNotFound) {
		l.Hasher.Verify(password, l.dummyDigest)
		return nil, ErrInvalidCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	digest := account.PasswordHash
	if digest == "" {
		digest = l.dummyDigest
	}
	ok := l.Hasher.Verify(password, digest)
	if !ok || !account.Active || account.PasswordHash == "" {
		return nil, ErrInvalidCredential
	}

	rehash := l.Hasher.NeedsRehash(account.PasswordHash)
	updated, err := ModifyAccount(ctx, l.Accounts, account.ID, func(a *Account) error {
		now := l.now()
		a.LastAuthenticatedAt = &now
		a.UpdatedAt = now
		if rehash && a.PasswordHash == account.PasswordHash {
			if d, err := l.Hasher.Hash(password); err == nil {
				a.PasswordHash = d
			}
		}
		return nil
	})
	if err != nil {
		// the credential check passed; a failed timestamp write does not undo it
		l.logger().Warn("failed to record login", "account", account.ID, "err", err)
		return account, nil
	}
	return updated, nil
}

// ChangePassword replaces the password of an account that already has one,
// after verifying the current password.
func (l *LocalAuthenticator) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if err := l.CheckPassword(newPassword); err != nil {
		return err
	}
	current, err := l.Accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		return err
	}
	if current.PasswordHash == "" || !l.Hasher.Verify(oldPassword, current.PasswordHash) {
		return ErrInvalidCredential
	}
	digest, err := l.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	_, err = ModifyAccount(ctx, l.Accounts, accountID, func(a *Account) error {
		if a.PasswordHash != current.PasswordHash {
			return ErrInvalidCredential
		}
		a.PasswordHash = digest
		a.UpdatedAt = l.now()
		return nil
	})
	if err == nil {
		l.logger().Info("password changed", "account", accountID)
	}
	return err
}

// SetPassword adds local credentials to an account that has none, such as
// one created by a federated login.
func (l *LocalAuthenticator) SetPassword(ctx context.Context, accountID, password string) error {
	if err := l.CheckPassword(password); err != nil {
		return err
	}
	digest, err := l.Hasher.Hash(password)
	if err != nil {
		return err
	}
	_, err = ModifyAccount(ctx, l.Accounts, accountID, func(a *Account) error {
		switch a.Credentials() {
		case CredentialLocal, CredentialBoth:
			return fmt.Errorf("%w: account already has a password", ErrConflict)
		case CredentialNone, CredentialFederated:
			a.PasswordHash = digest
			a.UpdatedAt = l.now()
			return nil
		}
		return nil
	})
	if err == nil {
		l.logger().Info("local credentials linked", "account", accountID)
	}
	return err
}
