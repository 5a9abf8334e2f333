package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Skotchmaster/shop_access/internal/domain"
)

const refreshType = "refresh"

// AccessClaims is the signed payload of an access token. Subject holds the
// user id and ID the token id shared with the paired refresh token.
type AccessClaims struct {
	Username          string      `json:"username"`
	Role              domain.Role `json:"role"`
	DisplayName       string      `json:"displayName"`
	IsImpersonation   bool        `json:"isImpersonation,omitempty"`
	OriginalAdminID   string      `json:"originalAdminId,omitempty"`
	OriginalAdminName string      `json:"originalAdminName,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is deliberately minimal: it only links back to the ledger.
type RefreshClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func newAccessClaims(p domain.Principal, tokenID string, issuedAt, expiresAt time.Time, issuer string) AccessClaims {
	c := AccessClaims{
		Username:    p.Username,
		Role:        p.Role,
		DisplayName: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.UserID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if imp := p.Impersonation; imp != nil {
		c.IsImpersonation = true
		c.OriginalAdminID = imp.OriginalAdminID
		c.OriginalAdminName = imp.OriginalAdminName
	}
	return c
}

// Principal rebuilds the identity carried by the claims.
func (c *AccessClaims) Principal() domain.Principal {
	p := domain.Principal{
		UserID:      c.Subject,
		Username:    c.Username,
		Role:        c.Role,
		DisplayName: c.DisplayName,
	}
	if c.IsImpersonation {
		p.Impersonation = &domain.ImpersonationContext{
			OriginalAdminID:   c.OriginalAdminID,
			OriginalAdminName: c.OriginalAdminName,
		}
	}
	return p
}

func (c *AccessClaims) TokenID() string { return c.ID }

func (c *AccessClaims) wellFormed() bool {
	if c.Subject == "" || c.ID == "" || !c.Role.Valid() {
		return false
	}
	if c.IsImpersonation && c.OriginalAdminID == "" {
		return false
	}
	if !c.IsImpersonation && (c.OriginalAdminID != "" || c.OriginalAdminName != "") {
		return false
	}
	return true
}

func (c *RefreshClaims) TokenID() string { return c.ID }

func (c *RefreshClaims) UserID() string { return c.Subject }

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	TokenID          string
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
