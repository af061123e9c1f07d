package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/bucketing"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// UserRepository reads the user directory. Accounts are provisioned out of
// band; this service only resolves them and stamps last login.
type UserRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
	logger  *zap.Logger
}

func NewUserRepository(client *ScyllaClient, buckets *bucketing.Manager, logger *zap.Logger) *UserRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserRepository{
		client:  client,
		buckets: buckets,
		logger:  logger,
	}
}

func (r *UserRepository) FindByID(ctx context.Context, userID string) (model.User, error) {
	return r.readUser(ctx, r.buckets.UserBucket(userID), userID)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	var bucket int
	var userID string

	query := r.client.Prepared.GetUserByEmail.Bind(email).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &bucket, &userID); err != nil {
		if err == gocql.ErrNotFound {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to resolve user by email: %w", err)
	}

	return r.readUser(ctx, bucket, userID)
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	bucket := r.buckets.UserBucket(userID)
	query := r.client.Prepared.UpdateUserLastLogin.Bind(at.UTC(), bucket, userID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		r.logger.Error("failed to update last login",
			zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

func (r *UserRepository) GetUserRole(ctx context.Context, userID string) (model.Role, error) {
	user, err := r.FindByID(ctx, userID)
	if err != nil {
		return model.Role{}, err
	}

	role, _, err := r.readRole(ctx, user.RoleID)
	return role, err
}

func (r *UserRepository) GetUserPermissions(ctx context.Context, userID string) ([]string, error) {
	user, err := r.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	_, permissions, err := r.readRole(ctx, user.RoleID)
	return permissions, err
}

func (r *UserRepository) readUser(ctx context.Context, bucket int, userID string) (model.User, error) {
	var user model.User
	var rowBucket int
	var lastLogin time.Time

	query := r.client.Prepared.GetUserByID.Bind(bucket, userID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&rowBucket, &user.UserID, &user.Email, &user.Name,
		&user.Status, &user.RoleID, &user.CreatedAt, &lastLogin)
	if err != nil {
		if err == gocql.ErrNotFound {
			return model.User{}, model.ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	if !lastLogin.IsZero() {
		user.LastLoginAt = &lastLogin
	}
	return user, nil
}

func (r *UserRepository) readRole(ctx context.Context, roleID string) (model.Role, []string, error) {
	var role model.Role
	var permissions []string

	query := r.client.Prepared.GetRole.Bind(roleID).WithContext(ctx)
	err := r.client.ScanWithRetry(query, &role.RoleID, &role.Name, &role.Description, &permissions)
	if err != nil {
		if err == gocql.ErrNotFound {
			return model.Role{}, nil, model.ErrNotFound
		}
		return model.Role{}, nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, permissions, nil
}
