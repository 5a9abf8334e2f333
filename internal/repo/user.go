package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/shop_access/internal/domain"
	"github.com/Skotchmaster/shop_access/internal/hash"
	"github.com/Skotchmaster/shop_access/internal/models"
)

var ErrUserAlreadyExist = errors.New("user already exist")

// GormRepo is the UserStore backed by the users table.
type GormRepo struct {
	DB *gorm.DB
}

var _ domain.UserStore = (*GormRepo)(nil)

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{DB: db}
}

func (r *GormRepo) FindByID(ctx context.Context, id string) (*domain.UserRecord, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	rec := toRecord(user)
	return &rec, nil
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*domain.UserRecord, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	rec := toRecord(user)
	return &rec, nil
}

// CheckCredentials returns the active user matching username and password,
// or domain.ErrInvalidCredentials.
func (r *GormRepo) CheckCredentials(ctx context.Context, username, password string) (*domain.UserRecord, error) {
	u, err := r.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			hash.BurnCompare(password)
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}
	if !hash.CheckPassword(u.PasswordHash, password) {
		return nil, domain.ErrInvalidCredentials
	}
	if !u.Active || !u.Role.Valid() {
		return nil, domain.ErrInvalidCredentials
	}
	return u, nil
}

// CreateUser hashes password and inserts the user. An empty ID gets a UUID.
func (r *GormRepo) CreateUser(ctx context.Context, u domain.UserRecord, password string) (*domain.UserRecord, error) {
	if !u.Role.Valid() {
		return nil, fmt.Errorf("unknown role %q", u.Role)
	}
	pwHash, err := hash.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	row := models.User{
		ID:           u.ID,
		Username:     strings.TrimSpace(u.Username),
		DisplayName:  u.DisplayName,
		PasswordHash: pwHash,
		Role:         string(u.Role),
		Active:       u.Active,
	}

	tx := r.DB.WithContext(ctx).Where("username = ?", row.Username).FirstOrCreate(&row)
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrUserAlreadyExist
	}
	rec := toRecord(row)
	return &rec, nil
}

// SetActive enables or disables a user.
func (r *GormRepo) SetActive(ctx context.Context, id string, active bool) error {
	res := r.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toRecord(u models.User) domain.UserRecord {
	return domain.UserRecord{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		Role:         domain.Role(u.Role),
		PasswordHash: u.PasswordHash,
		Active:       u.Active,
	}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	return err
}
