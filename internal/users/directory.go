package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/tfdgestao/relatorios/internal/models"
	"gorm.io/gorm"
)

var ErrUnknownUser = errors.New("unknown user")

// Identity is the audit view of a user.
type Identity struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Lookup(ctx context.Context, id uint) (Identity, error) {
	var u models.User
	if err := d.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, fmt.Errorf("%w: %d", ErrUnknownUser, id)
		}
		return Identity{}, fmt.Errorf("failed to look up user %d: %w", id, err)
	}
	return Identity{ID: u.ID, Name: u.DisplayName(), Email: u.Email}, nil
}

// Authenticate returns the active user matching username and password.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var u models.User
	if err := d.db.WithContext(ctx).Where("username = ? AND is_active = ?", username, true).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to load user %q: %w", username, err)
	}
	if !u.CheckPassword(password) {
		return nil, ErrUnknownUser
	}
	return &u, nil
}

// EnsureAdmin creates the bootstrap administrator when no user with that
// username exists yet.
func (d *Directory) EnsureAdmin(ctx context.Context, username, password, email string) (*models.User, error) {
	var u models.User
	err := d.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to check admin user: %w", err)
	}

	u = models.User{
		Username: username,
		Name:     "Administrador",
		Role:     models.RoleAdmin,
		Email:    email,
		IsActive: true,
	}
	if err := u.SetPassword(password); err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	if err := d.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	return &u, nil
}
