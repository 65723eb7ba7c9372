package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/virtshift/virtshift-api/internal/models"
	"golang.org/x/crypto/bcrypt"
)

type UserRepository interface {
	CreateUser(ctx context.Context, tenantID, email, password string, roles []models.UserRole) (models.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (models.User, error)
	GetUserByID(ctx context.Context, userID string) (models.User, error)
}

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

func (u *userRepository) CreateUser(ctx context.Context, tenantID, email, password string, roles []models.UserRole) (models.User, error) {
	if len(roles) == 0 {
		roles = []models.UserRole{models.RoleViewer}
	}
	if !models.IsValidRoleList(roles) {
		return models.User{}, errors.New("invalid roles")
	}
	normalized := models.EnsureDefaultRole(models.NormalizeRoles(roles))

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: string(hash),
		IsActive:     true,
		Roles:        normalized,
	}

	roleStrings := make([]string, 0, len(normalized))
	for _, role := range normalized {
		roleStrings = append(roleStrings, string(role))
	}

	query := `
		INSERT INTO panel.users (tenant_id, email, password_hash, is_active, roles)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err = u.db.QueryRowContext(ctx, query,
		user.TenantID, user.Email, user.PasswordHash, user.IsActive, pq.Array(roleStrings),
	).Scan(&user.ID)
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (u *userRepository) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	user, err := u.getUser(ctx, `WHERE email = $1`, email)
	if err != nil {
		return models.User{}, errors.New("invalid credentials")
	}
	if !user.IsActive {
		return models.User{}, errors.New("user is inactive")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, errors.New("invalid credentials")
	}
	return user, nil
}

func (u *userRepository) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	return u.getUser(ctx, `WHERE id = $1`, userID)
}

func (u *userRepository) getUser(ctx context.Context, where string, arg interface{}) (models.User, error) {
	query := `
		SELECT id, tenant_id, email, password_hash, is_active, roles
		FROM panel.users ` + where

	var (
		user  models.User
		roles pq.StringArray
	)
	err := u.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.TenantID,
		&user.Email,
		&user.PasswordHash,
		&user.IsActive,
		&roles,
	)
	if err == sql.ErrNoRows {
		return user, ErrNotFound
	}
	if err != nil {
		return user, err
	}
	for _, role := range roles {
		user.Roles = append(user.Roles, models.UserRole(role))
	}
	user.Roles = models.EnsureDefaultRole(models.NormalizeRoles(user.Roles))
	return user, nil
}
