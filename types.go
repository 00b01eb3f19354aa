package forumauth

import (
	"context"
	"time"

	"github.com/mengnankk/forumauth/permission"
)

// AccountStatus is the lifecycle state stored on a user record.
type AccountStatus int

const (
	// AccountDisabled marks an account that may not authenticate.
	AccountDisabled AccountStatus = 0
	// AccountActive marks a normal, usable account.
	AccountActive AccountStatus = 1
)

// UserRecord is the engine's view of a stored account. CredentialStore
// implementations map their own schema onto it.
type UserRecord struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  string
	Nickname      string
	Avatar        string
	Phone         string
	Status        AccountStatus
	EmailVerified bool
	PhoneVerified bool
	LastLoginAt   time.Time
	LastLoginIP   string
	LoginCount    int64
}

// CreateUserInput carries the fields Register writes for a new account.
// PasswordHash is already encoded; the engine never hands plaintext
// passwords to the store.
type CreateUserInput struct {
	Username     string
	Email        string
	PasswordHash string
	Nickname     string
}

// CredentialStore is the persistence interface the engine authenticates
// against. Implementations return ErrUserNotFound when no account matches
// a lookup and ErrAccountExists when Create hits a uniqueness conflict.
// Any other error is treated as a store outage.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
	FindByID(ctx context.Context, userID int64) (*UserRecord, error)
	Create(ctx context.Context, input CreateUserInput) (*UserRecord, error)
	UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error
	RecordLogin(ctx context.Context, userID int64, ip string, at time.Time) error
}

// Principal is an authenticated caller as seen by downstream request
// handling. Role and permission sets are resolved snapshots; they do not
// refresh themselves after construction.
type Principal struct {
	UserID      int64
	Username    string
	Roles       []string
	Permissions []string
}

// HasRole reports whether the principal holds the role. The code may be
// given with or without the "ROLE_" namespace prefix.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	code := permission.TrimRolePrefix(role)
	for _, r := range p.Roles {
		if r == code {
			return true
		}
	}
	return false
}

// HasPermission reports whether the principal holds the permission code.
func (p *Principal) HasPermission(perm string) bool {
	if p == nil {
		return false
	}
	for _, v := range p.Permissions {
		if v == perm {
			return true
		}
	}
	return false
}

// Authorities returns the combined authority strings: each role prefixed
// with "ROLE_", followed by the plain permission codes.
func (p *Principal) Authorities() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Roles)+len(p.Permissions))
	for _, r := range p.Roles {
		out = append(out, permission.RolePrefix+r)
	}
	out = append(out, p.Permissions...)
	return out
}

// LoginResult is returned by Authenticate and Register.
type LoginResult struct {
	UserID       int64
	Username     string
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}

// RefreshResult is returned by Refresh. Only the access token is
// reissued; the presented refresh token remains the active session.
type RefreshResult struct {
	AccessToken string
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64
}
