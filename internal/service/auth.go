package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/events"
	"github.com/Skotchmaster/shop_access/internal/impersonation"
	"github.com/Skotchmaster/shop_access/internal/ledger"
	"github.com/Skotchmaster/shop_access/internal/tokens"
	"github.com/Skotchmaster/shop_access/pkg/logging"
)

var ErrValidation = errors.New("validation failed")

// CredentialChecker verifies a username/password pair. It is the opaque
// password capability of the user store.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, username, password string) (*domain.UserRecord, error)
}

// Session is a principal together with the pair minted for it.
type Session struct {
	Principal domain.Principal
	Pair      tokens.Pair
}

type AuthService struct {
	Users       domain.UserStore
	Credentials CredentialChecker
	Issuer      *tokens.Issuer
	Ledger      ledger.Ledger
	Imp         *impersonation.Controller
	Events      events.Publisher

	// OnImpersonation is told "start" or "exit" after each successful transition.
	OnImpersonation func(action string)
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login")

	if strings.TrimSpace(username) == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrValidation)
	}

	user, err := s.Credentials.CheckCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			l.Warn("login_failed", "status", 401, "reason", "invalid username or password")
			return nil, domain.ErrInvalidCredentials
		}
		l.Error("login_failed", "status", 500, "error", err)
		return nil, fmt.Errorf("check credentials: %w", err)
	}

	sess, err := s.issue(ctx, user.Principal())
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "cannot issue tokens", "error", err)
		return nil, err
	}

	l.Info("login_successful", "user_id", user.ID)
	s.publish(ctx, events.Event{Type: events.TypeLogin, UserID: user.ID, TokenID: sess.Pair.TokenID})
	return sess, nil
}

// Refresh rotates refreshRaw into a new pair. The principal is re-read from
// the store. An impersonation is recovered from the ledger entry of the
// refresh token and survives the rotation as long as the original admin is
// still an active admin.
func (s *AuthService) Refresh(ctx context.Context, refreshRaw string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	claims, err := s.Issuer.VerifyRefresh(ctx, refreshRaw)
	if err != nil {
		return nil, err
	}

	user, err := s.Users.FindByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.Warn("refresh_failed", "status", 401, "reason", "user not found")
			return nil, domain.ErrInvalid
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Active || !user.Role.Valid() {
		l.Warn("refresh_failed", "status", 401, "reason", "user inactive")
		return nil, domain.ErrInvalid
	}

	p := user.Principal()
	imp, err := s.recordedImpersonation(ctx, claims)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "reason", "impersonating admin no longer valid")
		return nil, err
	}
	p.Impersonation = imp

	pair, err := s.Issuer.Rotate(ctx, refreshRaw, p)
	if err != nil {
		return nil, err
	}
	return &Session{Principal: p, Pair: pair}, nil
}

func (s *AuthService) recordedImpersonation(ctx context.Context, refresh *tokens.RefreshClaims) (*domain.ImpersonationContext, error) {
	entry, ok, err := s.Ledger.Lookup(ctx, refresh.TokenID())
	if err != nil {
		return nil, fmt.Errorf("ledger lookup: %w", err)
	}
	if !ok || entry.UserID != refresh.UserID() {
		return nil, domain.ErrInvalid
	}
	if !entry.Impersonated() {
		return nil, nil
	}

	admin, err := s.Users.FindByID(ctx, entry.OriginalAdminID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalid
		}
		return nil, fmt.Errorf("find admin: %w", err)
	}
	if !admin.Active || admin.Role != domain.RoleAdmin {
		return nil, domain.ErrInvalid
	}
	return &domain.ImpersonationContext{
		OriginalAdminID:   entry.OriginalAdminID,
		OriginalAdminName: entry.OriginalAdminName,
	}, nil
}

// Logout revokes the pair identified by either token. Missing or invalid
// tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, accessRaw, refreshRaw string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	var tokenID, userID string
	if refreshRaw != "" {
		if c, err := s.Issuer.VerifyRefresh(ctx, refreshRaw); err == nil {
			tokenID, userID = c.TokenID(), c.UserID()
		}
	}
	if tokenID == "" && accessRaw != "" {
		if c, err := s.Issuer.VerifyAccess(ctx, accessRaw); err == nil {
			tokenID, userID = c.TokenID(), c.Subject
		}
	}
	if tokenID == "" {
		return nil
	}

	if _, err := s.Ledger.Revoke(ctx, tokenID); err != nil {
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke token", "error", err)
		return fmt.Errorf("revoke token: %w", err)
	}
	l.Info("successful_logout", "user_id", userID)
	s.publish(ctx, events.Event{Type: events.TypeLogout, UserID: userID, TokenID: tokenID})
	return nil
}

// LogoutAll revokes every pair of p. It is refused inside an impersonation
// session, where it would act on the impersonated user.
func (s *AuthService) LogoutAll(ctx context.Context, p domain.Principal) (int, error) {
	if p.IsImpersonating() {
		return 0, fmt.Errorf("%w: exit impersonation first", domain.ErrInvalidState)
	}
	n, err := s.Ledger.RevokeAll(ctx, p.UserID)
	if err != nil {
		return 0, fmt.Errorf("revoke all: %w", err)
	}
	logging.FromContext(ctx).Info("logout_everywhere", "user_id", p.UserID, "revoked", n)
	s.publish(ctx, events.Event{Type: events.TypeLogoutAll, UserID: p.UserID, Count: n})
	return n, nil
}

// LoginAs starts impersonating targetID. The admin's own pair stays valid;
// the client replaces it with the returned one.
func (s *AuthService) LoginAs(ctx context.Context, actor domain.Principal, targetID string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.impersonate", "actor_id", actor.UserID, "target_id", targetID)

	p, err := s.Imp.Start(ctx, actor, targetID)
	if err != nil {
		l.Warn("impersonation_refused", "error", err)
		return nil, err
	}

	sess, err := s.issue(ctx, p)
	if err != nil {
		l.Error("impersonation_failed", "status", 500, "error", err)
		return nil, err
	}

	l.Info("impersonation_started")
	s.publish(ctx, events.Event{Type: events.TypeImpersonationStarted, UserID: p.UserID, ActorID: actor.UserID, TokenID: sess.Pair.TokenID})
	if s.OnImpersonation != nil {
		s.OnImpersonation("start")
	}
	return sess, nil
}

// ExitImpersonation returns to the original admin. currentTokenID, the id of
// the impersonation pair, is revoked once the admin pair has been issued. If
// that revoke fails the new admin pair is withdrawn and the exit fails, so the
// caller keeps the impersonation session and can retry.
func (s *AuthService) ExitImpersonation(ctx context.Context, actor domain.Principal, currentTokenID string) (*Session, error) {
	l := logging.FromContext(ctx).With("svc", "auth.exit_impersonation", "user_id", actor.UserID)

	p, err := s.Imp.Exit(ctx, actor)
	if err != nil {
		l.Warn("exit_impersonation_refused", "error", err)
		return nil, err
	}

	sess, err := s.issue(ctx, p)
	if err != nil {
		l.Error("exit_impersonation_failed", "status", 500, "error", err)
		return nil, err
	}

	if currentTokenID != "" {
		if _, err := s.Ledger.Revoke(ctx, currentTokenID); err != nil {
			l.Error("exit_impersonation_failed", "status", 500, "reason", "cannot revoke impersonation pair", "error", err)
			if _, rerr := s.Ledger.Revoke(ctx, sess.Pair.TokenID); rerr != nil {
				l.Error("exit_impersonation_rollback_failed", "token_id", sess.Pair.TokenID, "error", rerr)
			}
			return nil, fmt.Errorf("revoke impersonation pair: %w", err)
		}
	}

	l.Info("impersonation_ended", "admin_id", p.UserID)
	s.publish(ctx, events.Event{Type: events.TypeImpersonationEnded, UserID: actor.UserID, ActorID: p.UserID, TokenID: sess.Pair.TokenID})
	if s.OnImpersonation != nil {
		s.OnImpersonation("exit")
	}
	return sess, nil
}

func (s *AuthService) issue(ctx context.Context, p domain.Principal) (*Session, error) {
	pair, err := s.Issuer.IssuePair(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("issue pair: %w", err)
	}
	return &Session{Principal: p, Pair: pair}, nil
}

func (s *AuthService) publish(ctx context.Context, e events.Event) {
	if s.Events == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Events.Publish(pubCtx, e); err != nil {
		logging.FromContext(ctx).Error("event_publish_failed", "type", e.Type, "error", err)
	}
}
