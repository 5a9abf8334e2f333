package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/shop_access/internal/models"
)

// Gorm stores the ledger in the token_ledger table so several instances can
// share revocation state. Replace runs in a transaction; a duplicate id
// that races past the Register check still fails on the unique index.
type Gorm struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Ledger = (*Gorm)(nil)

func NewGorm(db *gorm.DB, opts ...Option) *Gorm {
	o := buildOptions(opts)
	return &Gorm{db: db, now: o.now}
}

func (g *Gorm) Register(ctx context.Context, e Entry) error {
	return insert(g.db.WithContext(ctx), e)
}

func insert(db *gorm.DB, e Entry) error {
	row := models.LedgerEntry{
		TokenID:           e.TokenID,
		UserID:            e.UserID,
		IssuedAt:          e.IssuedAt.UTC(),
		ExpiresAt:         e.ExpiresAt.UTC(),
		OriginalAdminID:   e.OriginalAdminID,
		OriginalAdminName: e.OriginalAdminName,
	}
	var count int64
	if err := db.Model(&models.LedgerEntry{}).Where("token_id = ?", e.TokenID).Count(&count).Error; err != nil {
		return fmt.Errorf("ledger register: %w", err)
	}
	if count > 0 {
		return ErrExists
	}
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("ledger register: %w", err)
	}
	return nil
}

func (g *Gorm) Lookup(ctx context.Context, tokenID string) (Entry, bool, error) {
	var row models.LedgerEntry
	err := g.db.WithContext(ctx).Where("token_id = ?", tokenID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("ledger lookup: %w", err)
	}
	return Entry{
		TokenID:           row.TokenID,
		UserID:            row.UserID,
		IssuedAt:          row.IssuedAt,
		ExpiresAt:         row.ExpiresAt,
		Revoked:           row.Revoked,
		OriginalAdminID:   row.OriginalAdminID,
		OriginalAdminName: row.OriginalAdminName,
	}, true, nil
}

func (g *Gorm) IsActive(ctx context.Context, tokenID, userID string) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("token_id = ? AND user_id = ? AND revoked = ? AND expires_at > ?", tokenID, userID, false, g.now().UTC()).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return count > 0, nil
}

func (g *Gorm) Revoke(ctx context.Context, tokenID string) (bool, error) {
	res := g.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("token_id = ?", tokenID).
		Update("revoked", true)
	if res.Error != nil {
		return false, fmt.Errorf("ledger revoke: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (g *Gorm) RevokeAll(ctx context.Context, userID string) (int, error) {
	res := g.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Update("revoked", true)
	if res.Error != nil {
		return 0, fmt.Errorf("ledger revoke all: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

var errNotConsumed = errors.New("ledger: old entry not active")

func (g *Gorm) Replace(ctx context.Context, oldID, userID string, next Entry) (bool, error) {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.LedgerEntry{}).
			Where("token_id = ? AND user_id = ? AND revoked = ? AND expires_at > ?", oldID, userID, false, g.now().UTC()).
			Update("revoked", true)
		if res.Error != nil {
			return fmt.Errorf("ledger consume: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return errNotConsumed
		}
		return insert(tx, next)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errNotConsumed):
		return false, nil
	default:
		return false, err
	}
}

func (g *Gorm) Sweep(ctx context.Context, now time.Time) (int, error) {
	res := g.db.WithContext(ctx).
		Where("revoked = ? OR expires_at <= ?", true, now.UTC()).
		Delete(&models.LedgerEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("ledger sweep: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (g *Gorm) Len(ctx context.Context) (int, error) {
	var count int64
	if err := g.db.WithContext(ctx).Model(&models.LedgerEntry{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("ledger count: %w", err)
	}
	return int(count), nil
}
