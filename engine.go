package forumauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mengnankk/forumauth/internal/rate"
	"github.com/mengnankk/forumauth/password"
	"github.com/mengnankk/forumauth/permission"
	"github.com/mengnankk/forumauth/session"
	"github.com/mengnankk/forumauth/token"
)

// Engine is the authentication and authorization core. Construct it with
// the Builder; the zero value is not usable.
type Engine struct {
	cfg        Config
	logger     zerolog.Logger
	tokens     *token.Engine
	sessions   *session.Store
	resolver   *permission.Resolver
	perms      *permission.Service
	limiter    *rate.Limiter
	hasher     *password.Argon2
	users      CredentialStore
	dispatcher *eventDispatcher
	metrics    *Metrics
}

// RegisterInput carries a new account request. Password is plaintext and
// is hashed before it reaches the credential store.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Nickname string
}

// Authenticate verifies the username/password pair and issues a token
// pair. A successful login replaces the user's current refresh session,
// so older refresh tokens stop working.
//
// The login rate limit is keyed on the client IP attached to ctx via
// WithClientIP. Unknown username and wrong password both return
// ErrAuthFailed.
func (e *Engine) Authenticate(ctx context.Context, username, plainPassword string) (*LoginResult, error) {
	if err := e.allow(ctx, e.cfg.RateLimit.Login, clientIPFromContext(ctx)); err != nil {
		e.metrics.inc(MetricLoginRateLimited)
		return nil, err
	}

	user, err := e.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.inc(MetricLoginFailure)
			return nil, ErrAuthFailed
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if user.Status != AccountActive {
		e.logger.Warn().Int64("user_id", user.ID).Msg("login rejected for inactive account")
		e.metrics.inc(MetricLoginFailure)
		return nil, ErrAuthFailed
	}

	ok, err := e.hasher.Verify(plainPassword, user.PasswordHash)
	if err != nil || !ok {
		e.metrics.inc(MetricLoginFailure)
		return nil, ErrAuthFailed
	}

	result, err := e.issuePair(ctx, user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	ip := clientIPFromContext(ctx)
	if err := e.users.RecordLogin(ctx, user.ID, ip, time.Now()); err != nil {
		e.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("login bookkeeping failed")
	}

	event := newEvent(EventUserLoggedIn, user.ID, user.Username)
	event.IP = ip
	event.UserAgent = userAgentFromContext(ctx)
	e.dispatcher.emit(ctx, event)

	e.metrics.inc(MetricLoginSuccess)
	e.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("login succeeded")

	return result, nil
}

// Register creates an account, assigns the default USER role when the
// role graph supports mutation, and emits a user.register event. The
// register rate limit is keyed on client IP.
func (e *Engine) Register(ctx context.Context, input RegisterInput) (*UserRecord, error) {
	if err := e.allow(ctx, e.cfg.RateLimit.Register, clientIPFromContext(ctx)); err != nil {
		e.metrics.inc(MetricRegisterRateLimited)
		return nil, err
	}

	hash, err := e.hasher.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	user, err := e.users.Create(ctx, CreateUserInput{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		Nickname:     input.Nickname,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if e.perms != nil {
		if err := e.perms.AssignRole(ctx, user.ID, permission.RoleUser); err != nil {
			e.logger.Error().Err(err).Int64("user_id", user.ID).Msg("default role assignment failed")
		}
	}

	event := newEvent(EventUserRegistered, user.ID, user.Username)
	event.IP = clientIPFromContext(ctx)
	event.Metadata = map[string]string{"email": user.Email}
	e.dispatcher.emit(ctx, event)

	e.metrics.inc(MetricRegisterSuccess)
	e.logger.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("account created")

	return user, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// presented token must be the user's current refresh session. The stored
// session is left untouched, so the same refresh token keeps working
// until it expires or is replaced by a new login.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := e.tokens.Parse(refreshToken)
	if err != nil || claims.TokenType != token.TypeRefresh {
		e.metrics.inc(MetricRefreshFailure)
		return nil, ErrInvalidRefresh
	}

	matched, err := e.sessions.MatchRefresh(ctx, claims.UserID, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !matched {
		e.metrics.inc(MetricRefreshFailure)
		return nil, ErrInvalidRefresh
	}

	access, err := e.tokens.MintAccess(claims.Subject, claims.UserID)
	if err != nil {
		return nil, err
	}

	e.metrics.inc(MetricRefreshSuccess)
	e.logger.Debug().Int64("user_id", claims.UserID).Msg("access token refreshed")

	return &RefreshResult{
		AccessToken: access,
		ExpiresIn:   int64(e.tokens.AccessTTL() / time.Second),
	}, nil
}

// Validate checks an access token and returns the caller's Principal. The
// check is parse, then blacklist, then role/permission resolution; no
// credential store round trip happens on this path.
//
// A blacklist store outage fails closed: the token is rejected. A role
// graph outage degrades instead: the Principal carries empty role and
// permission sets.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := e.tokens.Parse(accessToken)
	if err != nil || claims.TokenType != token.TypeAccess {
		e.metrics.inc(MetricValidateFailure)
		return nil, ErrUnauthenticated
	}

	revoked, err := e.sessions.IsRevoked(ctx, token.ID(claims))
	if err != nil {
		e.logger.Error().Err(err).Msg("blacklist check failed, rejecting token")
		e.metrics.inc(MetricValidateFailure)
		return nil, ErrUnauthenticated
	}
	if revoked {
		e.metrics.inc(MetricValidateFailure)
		return nil, ErrUnauthenticated
	}

	roles, permissions := e.resolveAuthorities(ctx, claims.UserID)

	e.metrics.inc(MetricValidateSuccess)

	return &Principal{
		UserID:      claims.UserID,
		Username:    claims.Subject,
		Roles:       roles,
		Permissions: permissions,
	}, nil
}

// Logout revokes the access token for its remaining lifetime and deletes
// the user's refresh session. An unparseable access token skips the
// blacklist write but the refresh session is still deleted, so logout
// always ends the session.
func (e *Engine) Logout(ctx context.Context, accessToken string, userID int64) error {
	username := ""
	if claims, err := e.tokens.Parse(accessToken); err == nil && claims.TokenType == token.TypeAccess {
		username = claims.Subject
		if err := e.sessions.Revoke(ctx, token.ID(claims), token.Remaining(claims)); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metrics.inc(MetricTokenRevoked)
	}

	if err := e.sessions.DeleteRefresh(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	event := newEvent(EventUserLoggedOut, userID, username)
	event.IP = clientIPFromContext(ctx)
	e.dispatcher.emit(ctx, event)

	e.metrics.inc(MetricLogout)
	e.logger.Info().Int64("user_id", userID).Msg("logout completed")

	return nil
}

// ChangePassword verifies the old password, stores the new hash, and
// deletes the user's refresh session so stolen refresh tokens die with
// the old password. Outstanding access tokens remain valid until expiry.
func (e *Engine) ChangePassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	ok, err := e.hasher.Verify(oldPassword, user.PasswordHash)
	if err != nil || !ok {
		return ErrPasswordMismatch
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.sessions.DeleteRefresh(ctx, userID); err != nil {
		e.logger.Error().Err(err).Int64("user_id", userID).Msg("refresh session not deleted after password change")
	}

	e.dispatcher.emit(ctx, newEvent(EventUserPasswordChange, userID, user.Username))
	e.metrics.inc(MetricPasswordChange)
	e.logger.Info().Int64("user_id", userID).Msg("password changed")

	return nil
}

// CheckRole reports whether the user holds the role. A role graph outage
// degrades to false rather than an error.
func (e *Engine) CheckRole(ctx context.Context, userID int64, role string) bool {
	has, err := e.resolver.HasRole(ctx, userID, role)
	if err != nil {
		e.logger.Warn().Err(err).Int64("user_id", userID).Msg("role check degraded")
		e.metrics.inc(MetricGraphDegraded)
		return false
	}
	if !has {
		e.metrics.inc(MetricPermissionDenied)
	}
	return has
}

// CheckPermission reports whether the user holds the permission code. A
// role graph outage degrades to false rather than an error.
func (e *Engine) CheckPermission(ctx context.Context, userID int64, perm string) bool {
	has, err := e.resolver.HasPermission(ctx, userID, perm)
	if err != nil {
		e.logger.Warn().Err(err).Int64("user_id", userID).Msg("permission check degraded")
		e.metrics.inc(MetricGraphDegraded)
		return false
	}
	if !has {
		e.metrics.inc(MetricPermissionDenied)
	}
	return has
}

// CheckRateLimit applies a policy to a caller-supplied dimension value.
// The middleware package uses this for per-route limits. A counter store
// outage fails open: the request is admitted and the outage logged.
func (e *Engine) CheckRateLimit(ctx context.Context, policy RatePolicy, dimensionValue string) error {
	return e.allow(ctx, policy, dimensionValue)
}

// Permissions returns the role assignment service, or nil when the
// configured role graph is read-only.
func (e *Engine) Permissions() *permission.Service { return e.perms }

// Resolver returns the role/permission resolver, for callers that need
// raw role or authority sets.
func (e *Engine) Resolver() *permission.Resolver { return e.resolver }

// Metrics returns the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// EventsDropped reports how many events the dispatcher discarded because
// its queue was full.
func (e *Engine) EventsDropped() uint64 { return e.dispatcher.droppedCount() }

// Close drains and stops the event dispatcher. The Engine must not be
// used after Close.
func (e *Engine) Close() {
	e.dispatcher.close()
}

func (e *Engine) issuePair(ctx context.Context, userID int64, username string) (*LoginResult, error) {
	access, err := e.tokens.MintAccess(username, userID)
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.MintRefresh(username, userID)
	if err != nil {
		return nil, err
	}

	if err := e.sessions.SaveRefresh(ctx, userID, refresh, e.tokens.RefreshTTL()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &LoginResult{
		UserID:       userID,
		Username:     username,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(e.tokens.AccessTTL() / time.Second),
	}, nil
}

// allow runs a policy through the limiter, converting internal errors to
// the public taxonomy. Counter store outages admit the request.
func (e *Engine) allow(ctx context.Context, policy RatePolicy, dimensionValue string) error {
	if dimensionValue == "" {
		dimensionValue = "unknown"
	}

	err := e.limiter.Allow(ctx, policy.internal(), dimensionValue)
	if err == nil {
		return nil
	}

	var exceeded *rate.LimitExceededError
	if errors.As(err, &exceeded) {
		e.metrics.inc(MetricRateLimitHit)
		retry := int64((exceeded.RetryAfter + time.Second - 1) / time.Second)
		if retry < 1 {
			retry = 1
		}
		return &RateLimitError{Message: exceeded.Message, RetryAfter: retry}
	}

	if errors.Is(err, rate.ErrRedisUnavailable) {
		e.logger.Error().Err(err).Str("policy", policy.Key).Msg("rate limit store unavailable, admitting request")
		return nil
	}

	return err
}

// resolveAuthorities loads the user's role and permission sets, degrading
// to empty sets when the graph is unreachable.
func (e *Engine) resolveAuthorities(ctx context.Context, userID int64) ([]string, []string) {
	roles, err := e.resolver.RolesOf(ctx, userID)
	if err != nil {
		e.logger.Warn().Err(err).Int64("user_id", userID).Msg("role resolution degraded")
		e.metrics.inc(MetricGraphDegraded)
		roles = []string{}
	}
	permissions, err := e.resolver.PermissionsOf(ctx, userID)
	if err != nil {
		e.logger.Warn().Err(err).Int64("user_id", userID).Msg("permission resolution degraded")
		e.metrics.inc(MetricGraphDegraded)
		permissions = []string{}
	}
	return roles, permissions
}
