// Package tokens mints and verifies signed access/refresh token pairs. It is
// the boundary between cryptographic validity and ledger validity: a token
// verifies only if its signature holds and its ledger entry is live.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/ledger"
	"github.com/Skotchmaster/shop_access/pkg/logging"
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Issuer, when set, is written to and required in the "iss" claim.
	Issuer string
}

// Validate enforces the key-material precondition. A service must not start
// serving with a config that fails here.
func (c Config) Validate() error {
	if err := ValidateSecret("access secret", c.AccessSecret); err != nil {
		return err
	}
	if err := ValidateSecret("refresh secret", c.RefreshSecret); err != nil {
		return err
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrWeakSecret)
	}
	if c.AccessTTL < 0 || c.RefreshTTL < 0 {
		return errors.New("token lifetimes must be positive")
	}
	return nil
}

// Observer receives the outcome of each verification, kind is "access" or "refresh".
type Observer func(kind string, ok bool)

type Option func(*Issuer)

func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

func WithIDGenerator(gen func() string) Option {
	return func(i *Issuer) {
		if gen != nil {
			i.newID = gen
		}
	}
}

func WithObserver(o Observer) Option {
	return func(i *Issuer) { i.observe = o }
}

type Issuer struct {
	cfg     Config
	ledger  ledger.Ledger
	now     func() time.Time
	newID   func() string
	observe Observer
}

func NewIssuer(cfg Config, l ledger.Ledger, opts ...Option) (*Issuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if l == nil {
		return nil, errors.New("tokens: ledger is required")
	}
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("tokens: refresh lifetime must not be shorter than access lifetime")
	}

	i := &Issuer{
		cfg:    cfg,
		ledger: l,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// IssuePair signs a new pair for p and registers its token id. The ledger
// entry lives as long as the refresh token so the pair can be rotated after
// the access token expires.
func (i *Issuer) IssuePair(ctx context.Context, p domain.Principal) (Pair, error) {
	pair, err := i.sign(p)
	if err != nil {
		return Pair{}, err
	}
	if err := i.ledger.Register(ctx, ledgerEntry(pair, p)); err != nil {
		return Pair{}, fmt.Errorf("register token: %w", err)
	}
	return pair, nil
}

// ledgerEntry records the impersonation next to the token id so a refresh
// can restore it after the access token is gone.
func ledgerEntry(pair Pair, p domain.Principal) ledger.Entry {
	e := ledger.Entry{
		TokenID:   pair.TokenID,
		UserID:    p.UserID,
		IssuedAt:  pair.IssuedAt,
		ExpiresAt: pair.RefreshExpiresAt,
	}
	if p.Impersonation != nil {
		e.OriginalAdminID = p.Impersonation.OriginalAdminID
		e.OriginalAdminName = p.Impersonation.OriginalAdminName
	}
	return e
}

func (i *Issuer) sign(p domain.Principal) (Pair, error) {
	if p.UserID == "" || !p.Role.Valid() {
		return Pair{}, errors.New("tokens: principal needs a user id and a known role")
	}

	now := i.now()
	tokenID := i.newID()
	accessExp := now.Add(i.cfg.AccessTTL)
	refreshExp := now.Add(i.cfg.RefreshTTL)

	accessClaims := newAccessClaims(p, tokenID, now, accessExp, i.cfg.Issuer)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims).SignedString(i.cfg.AccessSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign access token: %w", err)
	}

	refreshClaims := RefreshClaims{
		Type: refreshType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   p.UserID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
	}
	refresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshClaims).SignedString(i.cfg.RefreshSecret)
	if err != nil {
		return Pair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenID:          tokenID,
		IssuedAt:         now,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// VerifyAccess checks the signature and expiry of an access token, then its
// ledger entry. Every rejection yields domain.ErrInvalid; the cause is only
// logged.
func (i *Issuer) VerifyAccess(ctx context.Context, raw string) (*AccessClaims, error) {
	var claims AccessClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, keyFunc(i.cfg.AccessSecret), i.parserOptions()...); err != nil {
		return nil, i.reject(ctx, "access", reasonOf(err), err)
	}
	if !claims.wellFormed() {
		return nil, i.reject(ctx, "access", "malformed_claims", nil)
	}
	if err := i.checkLedger(ctx, "access", claims.ID, claims.Subject); err != nil {
		return nil, err
	}
	i.report("access", true)
	return &claims, nil
}

// VerifyRefresh is VerifyAccess for refresh tokens, signed with the refresh key.
func (i *Issuer) VerifyRefresh(ctx context.Context, raw string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, keyFunc(i.cfg.RefreshSecret), i.parserOptions()...); err != nil {
		return nil, i.reject(ctx, "refresh", reasonOf(err), err)
	}
	if claims.Type != refreshType || claims.Subject == "" || claims.ID == "" {
		return nil, i.reject(ctx, "refresh", "not_a_refresh_token", nil)
	}
	if err := i.checkLedger(ctx, "refresh", claims.ID, claims.Subject); err != nil {
		return nil, err
	}
	i.report("refresh", true)
	return &claims, nil
}

// Rotate exchanges a refresh token for a new pair bound to p. The old token
// id is consumed and the new one registered in a single ledger step, so a
// refresh token works at most once and a failed rotation leaves it usable.
func (i *Issuer) Rotate(ctx context.Context, refreshRaw string, p domain.Principal) (Pair, error) {
	claims, err := i.VerifyRefresh(ctx, refreshRaw)
	if err != nil {
		return Pair{}, err
	}
	if claims.Subject != p.UserID {
		return Pair{}, i.reject(ctx, "refresh", "principal_mismatch", nil)
	}

	pair, err := i.sign(p)
	if err != nil {
		return Pair{}, err
	}

	replaced, err := i.ledger.Replace(ctx, claims.ID, claims.Subject, ledgerEntry(pair, p))
	if err != nil {
		return Pair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	if !replaced {
		return Pair{}, i.reject(ctx, "refresh", "already_used", nil)
	}
	return pair, nil
}

func (i *Issuer) checkLedger(ctx context.Context, kind, tokenID, userID string) error {
	active, err := i.ledger.IsActive(ctx, tokenID, userID)
	if err != nil {
		logging.FromContext(ctx).Error("ledger_lookup_failed", "kind", kind, "error", err)
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if !active {
		return i.reject(ctx, kind, "ledger_inactive", nil)
	}
	return nil
}

func (i *Issuer) parserOptions() []jwt.ParserOption {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	return opts
}

func (i *Issuer) reject(ctx context.Context, kind, reason string, err error) error {
	l := logging.FromContext(ctx)
	if err != nil {
		l.Debug("token_rejected", "kind", kind, "reason", reason, "error", err)
	} else {
		l.Debug("token_rejected", "kind", kind, "reason", reason)
	}
	i.report(kind, false)
	return domain.ErrInvalid
}

func (i *Issuer) report(kind string, ok bool) {
	if i.observe != nil {
		i.observe(kind, ok)
	}
}

func keyFunc(secret []byte) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	default:
		return "invalid"
	}
}
