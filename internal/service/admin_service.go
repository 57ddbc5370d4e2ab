package service

import (
	"context"
	"errors"
	"strings"

	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/repository"
)

// ErrEmailTaken is returned when an admin email is already registered.
var ErrEmailTaken = errors.New("email already registered")

// AdminService handles admin accounts and their permissions.
type AdminService struct {
	adminRepo *repository.AdminRepository
	roleRepo  *repository.RoleRepository
}

// NewAdminService creates a new AdminService.
func NewAdminService(adminRepo *repository.AdminRepository, roleRepo *repository.RoleRepository) *AdminService {
	return &AdminService{adminRepo: adminRepo, roleRepo: roleRepo}
}

// GetByEmail retrieves an admin by email.
func (s *AdminService) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	return s.adminRepo.GetByEmail(ctx, strings.TrimSpace(email))
}

// GetByID retrieves an admin by ID.
func (s *AdminService) GetByID(ctx context.Context, id int) (*model.Admin, error) {
	return s.adminRepo.GetByID(ctx, id)
}

// GetPermissions retrieves permission codes for an admin's role.
func (s *AdminService) GetPermissions(ctx context.Context, roleID int) ([]string, error) {
	perms, err := s.roleRepo.GetPermissionsByRoleID(ctx, roleID)
	if perms == nil {
		perms = []string{}
	}
	return perms, err
}

// Create creates a new admin.
func (s *AdminService) Create(ctx context.Context, admin *model.Admin) error {
	admin.Email = strings.ToLower(strings.TrimSpace(admin.Email))
	if err := s.adminRepo.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

// GrantAllPermissions makes sure every known permission exists and assigns
// all of them to roleID.
func (s *AdminService) GrantAllPermissions(ctx context.Context, roleID int) ([]string, error) {
	if err := s.roleRepo.SyncPermissions(ctx, model.AllPermissions); err != nil {
		return nil, err
	}
	codes, err := s.roleRepo.ListPermissionCodes(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.roleRepo.ReplaceRolePermissions(ctx, roleID, codes); err != nil {
		return nil, err
	}
	return codes, nil
}
