package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Schera-ole/vmwatch/internal/auth"
	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
	models "github.com/Schera-ole/vmwatch/internal/model"
	"github.com/Schera-ole/vmwatch/internal/repository"
)

// AdminService manages administrator accounts.
type AdminService struct {
	repository repository.Repository
	logger     *zap.SugaredLogger
}

// NewAdminService creates an AdminService.
func NewAdminService(repo repository.Repository, logger *zap.SugaredLogger) *AdminService {
	return &AdminService{repository: repo, logger: logger}
}

// Bootstrap makes sure a SUPER administrator exists. When none does, one is
// created from username and password; missing either is ErrConfiguration.
func (s *AdminService) Bootstrap(ctx context.Context, username, password string) error {
	admins, err := s.repository.ListAdmins(ctx)
	if err != nil {
		return fmt.Errorf("listing admins: %w", err)
	}
	for _, admin := range admins {
		if admin.Role == models.RoleSuper {
			s.logger.Debugw("super admin present", "username", admin.Username)
			return nil
		}
	}
	if username == "" || password == "" {
		return fmt.Errorf("%w: no super admin exists and DEFAULT_ADMIN_USERNAME or DEFAULT_ADMIN_PASSWORD is unset",
			internalerrors.ErrConfiguration)
	}
	if _, err := s.create(ctx, username, password, models.RoleSuper); err != nil {
		return err
	}
	s.logger.Infow("created super admin", "username", username)
	return nil
}

// CreateAdmin adds an ordinary administrator. Only the SUPER administrator
// may do so.
func (s *AdminService) CreateAdmin(ctx context.Context, actor string, dto models.CredentialsDTO) (models.Admin, error) {
	caller, err := s.repository.FindAdminByUsername(ctx, actor)
	if err != nil {
		if errors.Is(err, internalerrors.ErrNotFound) {
			return models.Admin{}, internalerrors.ErrForbidden
		}
		return models.Admin{}, err
	}
	if caller.Role != models.RoleSuper {
		return models.Admin{}, internalerrors.ErrForbidden
	}
	return s.create(ctx, dto.Username, dto.Password, models.RoleAdmin)
}

func (s *AdminService) create(ctx context.Context, username, password string, role models.Role) (models.Admin, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.Admin{}, err
	}
	admin := models.Admin{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.repository.CreateAdmin(ctx, admin); err != nil {
		return models.Admin{}, fmt.Errorf("creating admin %s: %w", username, err)
	}
	return admin, nil
}

// ListAdmins returns every administrator.
func (s *AdminService) ListAdmins(ctx context.Context) ([]models.Admin, error) {
	return s.repository.ListAdmins(ctx)
}
