// Package impersonation lets an admin act as another user and return to
// their own identity afterwards. A principal is either plain or
// impersonating; depth never exceeds one.
package impersonation

import (
	"context"
	"errors"
	"fmt"

	"github.com/Skotchmaster/shop_access/internal/domain"
)

type Controller struct {
	users domain.UserStore
}

func NewController(users domain.UserStore) *Controller {
	return &Controller{users: users}
}

// Start returns the principal of targetUserID carrying actor as the
// original admin. The caller mints a token pair for it.
func (c *Controller) Start(ctx context.Context, actor domain.Principal, targetUserID string) (domain.Principal, error) {
	if !actor.IsAdmin() {
		return domain.Principal{}, fmt.Errorf("%w: only admins may impersonate", domain.ErrUnauthorized)
	}
	if actor.IsImpersonating() {
		return domain.Principal{}, fmt.Errorf("%w: already in an impersonation session", domain.ErrInvalidState)
	}
	if targetUserID == "" {
		return domain.Principal{}, fmt.Errorf("%w: empty target", domain.ErrNotFound)
	}
	if targetUserID == actor.UserID {
		return domain.Principal{}, fmt.Errorf("%w: cannot impersonate yourself", domain.ErrInvalidState)
	}

	target, err := c.activeUser(ctx, targetUserID)
	if err != nil {
		return domain.Principal{}, err
	}

	p := target.Principal()
	p.Impersonation = &domain.ImpersonationContext{
		OriginalAdminID:   actor.UserID,
		OriginalAdminName: adminName(actor),
	}
	return p, nil
}

// Exit rebuilds the original admin from the store, not from the old
// claims, so an admin demoted or disabled meanwhile cannot come back.
func (c *Controller) Exit(ctx context.Context, actor domain.Principal) (domain.Principal, error) {
	if !actor.IsImpersonating() {
		return domain.Principal{}, fmt.Errorf("%w: not in an impersonation session", domain.ErrInvalidState)
	}

	admin, err := c.activeUser(ctx, actor.Impersonation.OriginalAdminID)
	if err != nil {
		return domain.Principal{}, err
	}
	return admin.Principal(), nil
}

func (c *Controller) activeUser(ctx context.Context, id string) (*domain.UserRecord, error) {
	u, err := c.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if u == nil || !u.Active || !u.Role.Valid() {
		return nil, fmt.Errorf("%w: user %s is inactive", domain.ErrNotFound, id)
	}
	return u, nil
}

func adminName(p domain.Principal) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Username
}
