// Copyright 2026 The Warehouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package packaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProjectRepository defines the interface for project persistence
type ProjectRepository interface {
	// Create creates a new project
	Create(ctx context.Context, project *Project) error

	// GetByID retrieves a project by ID
	GetByID(ctx context.Context, id string) (*Project, error)

	// GetByNormalizedName retrieves a project by its normalized name
	GetByNormalizedName(ctx context.Context, normalized string) (*Project, error)
}

// RoleRepository defines the interface for project role persistence
type RoleRepository interface {
	// Create creates a new role grant
	Create(ctx context.Context, role *Role) error

	// Get retrieves a user's role on a project, or ErrRoleNotFound
	Get(ctx context.Context, userID, projectID string) (*Role, error)

	// ListByProject returns all role grants on a project
	ListByProject(ctx context.Context, projectID string) ([]*Role, error)

	// Delete removes a role grant
	Delete(ctx context.Context, id string) error
}

// Service provides project and role business logic
type Service struct {
	projects ProjectRepository
	roles    RoleRepository
}

// NewService creates a new packaging service
func NewService(projects ProjectRepository, roles RoleRepository) *Service {
	return &Service{projects: projects, roles: roles}
}

// CreateProject registers a project and grants the creator the Owner role.
// Uniqueness is by normalized name, so "Foo.Bar" conflicts with "foo-bar".
func (s *Service) CreateProject(ctx context.Context, name, ownerID string) (*Project, error) {
	normalized := NormalizeName(name)

	existing, err := s.projects.GetByNormalizedName(ctx, normalized)
	if err == nil && existing != nil {
		return nil, ErrProjectAlreadyExists
	}

	project := &Project{
		ID:         uuid.NewString(),
		Name:       name,
		Normalized: normalized,
		CreatedAt:  time.Now(),
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	role := &Role{
		ID:        uuid.NewString(),
		UserID:    ownerID,
		ProjectID: project.ID,
		Name:      RoleOwner,
		CreatedAt: time.Now(),
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to grant owner role: %w", err)
	}

	return project, nil
}

// GetProject retrieves a project by name in any spelling
func (s *Service) GetProject(ctx context.Context, name string) (*Project, error) {
	return s.projects.GetByNormalizedName(ctx, NormalizeName(name))
}

// GetProjectByID retrieves a project by ID
func (s *Service) GetProjectByID(ctx context.Context, id string) (*Project, error) {
	return s.projects.GetByID(ctx, id)
}

// AddRole grants a role on a project
func (s *Service) AddRole(ctx context.Context, userID, projectID string, name RoleName) (*Role, error) {
	role := &Role{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProjectID: projectID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("failed to grant role: %w", err)
	}
	return role, nil
}

// HasPermission checks whether a user's role on a project grants a
// permission. No role means no permission.
func (s *Service) HasPermission(ctx context.Context, userID, projectID, permission string) (bool, error) {
	role, err := s.roles.Get(ctx, userID, projectID)
	if err != nil {
		if err == ErrRoleNotFound {
			return false, nil
		}
		return false, err
	}
	return role.HasPermission(permission), nil
}
