// Package users manages dashboard accounts (admin only) and the signed-in user's password.
package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/api"
)

const adminUsersPath = "/admin/users"

// ErrInvalidPayload wraps validation failures detected before any request is sent.
var ErrInvalidPayload = errors.New("invalid payload")

type Service interface {
	List(ctx context.Context) ([]model.User, error)
	Create(ctx context.Context, in model.UserCreate) (*model.User, error)
	Update(ctx context.Context, id int64, in model.UserUpdate) (*model.User, error)
	SetActive(ctx context.Context, id int64, active bool) (*model.User, error)
	SetPassword(ctx context.Context, id int64, password string) error
	// Deactivate is the server's soft delete.
	Deactivate(ctx context.Context, id int64) error
	ChangePassword(ctx context.Context, current, next string) error
}

type service struct {
	client   api.Client
	validate *validator.Validate
	log      zerolog.Logger
}

func NewService(client api.Client, log zerolog.Logger) Service {
	return &service{
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// RolesFromFlags turns role checkboxes into a role list; no selection means ["User"].
func RolesFromFlags(admin, user bool) []string {
	var roles []string
	if admin {
		roles = append(roles, model.RoleAdmin)
	}
	if user {
		roles = append(roles, model.RoleUser)
	}
	return defaultRoles(roles)
}

func defaultRoles(roles []string) []string {
	if len(roles) == 0 {
		return []string{model.RoleUser}
	}
	return roles
}

func (s *service) check(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

func (s *service) requireAdmin() error {
	return s.client.Session().RequireRole(model.RoleAdmin)
}

func userPath(id int64, suffix string) string {
	return adminUsersPath + "/" + strconv.FormatInt(id, 10) + suffix
}

func (s *service) List(ctx context.Context) ([]model.User, error) {
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}
	var out []model.User
	if err := s.client.GetJSON(ctx, adminUsersPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *service) Create(ctx context.Context, in model.UserCreate) (*model.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FullName = strings.TrimSpace(in.FullName)
	in.Roles = defaultRoles(in.Roles)
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}

	var out model.User
	if err := s.client.PostJSON(ctx, adminUsersPath, in, &out); err != nil {
		return nil, err
	}
	s.log.Info().Str("email", out.Email).Strs("roles", out.Roles).Msg("user created")
	return &out, nil
}

func (s *service) Update(ctx context.Context, id int64, in model.UserUpdate) (*model.User, error) {
	if in.Roles != nil {
		in.Roles = defaultRoles(in.Roles)
	}
	if in.FullName != nil {
		name := strings.TrimSpace(*in.FullName)
		in.FullName = &name
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if err := s.requireAdmin(); err != nil {
		return nil, err
	}

	var out model.User
	if err := s.client.PatchJSON(ctx, userPath(id, ""), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *service) SetActive(ctx context.Context, id int64, active bool) (*model.User, error) {
	return s.Update(ctx, id, model.UserUpdate{IsActive: &active})
}

func (s *service) SetPassword(ctx context.Context, id int64, password string) error {
	body := model.SetPassword{Password: password}
	if err := s.check(body); err != nil {
		return err
	}
	if err := s.requireAdmin(); err != nil {
		return err
	}
	return s.client.PostJSON(ctx, userPath(id, "/set-password"), body, nil)
}

func (s *service) Deactivate(ctx context.Context, id int64) error {
	if err := s.requireAdmin(); err != nil {
		return err
	}
	if err := s.client.Delete(ctx, userPath(id, "")); err != nil {
		return err
	}
	s.log.Info().Int64("id", id).Msg("user deactivated")
	return nil
}

func (s *service) ChangePassword(ctx context.Context, current, next string) error {
	body := model.ChangePassword{CurrentPassword: current, NewPassword: next}
	if err := s.check(body); err != nil {
		return err
	}
	return s.client.PostJSON(ctx, "/auth/change-password", body, nil)
}
