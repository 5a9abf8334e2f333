package domain

import "context"

// UserStore is the lookup capability consumed by the access core.
// Implementations return ErrNotFound when no record matches.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
}
