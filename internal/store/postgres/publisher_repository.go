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

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pypi/warehouse/internal/oidc"
)

// PublisherRepository implements oidc.PublisherRepository
type PublisherRepository struct {
	db *DB
}

// NewPublisherRepository creates a new publisher repository
func NewPublisherRepository(db *DB) *PublisherRepository {
	return &PublisherRepository{db: db}
}

// Create registers a publisher
func (r *PublisherRepository) Create(ctx context.Context, p *oidc.Publisher) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oidc_publishers (id, issuer, repository, workflow, environment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Issuer, p.Repository, p.Workflow, p.Environment, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	return nil
}

// GetByID retrieves a publisher by ID
func (r *PublisherRepository) GetByID(ctx context.Context, id string) (*oidc.Publisher, error) {
	var p oidc.Publisher
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, issuer, repository, workflow, environment, created_at
		FROM oidc_publishers WHERE id = $1
	`, id).Scan(&p.ID, &p.Issuer, &p.Repository, &p.Workflow, &p.Environment, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oidc.ErrPublisherNotFound
		}
		return nil, fmt.Errorf("failed to get publisher: %w", err)
	}
	return &p, nil
}

// FindByClaims returns the publisher matching the presented token's identity.
// A publisher registered without an environment matches any environment.
func (r *PublisherRepository) FindByClaims(ctx context.Context, issuer, repository, workflow, environment string) (*oidc.Publisher, error) {
	var p oidc.Publisher
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, issuer, repository, workflow, environment, created_at
		FROM oidc_publishers
		WHERE issuer = $1 AND repository = $2 AND workflow = $3
		  AND (environment = '' OR environment = $4)
		ORDER BY environment DESC
		LIMIT 1
	`, issuer, repository, workflow, environment).Scan(
		&p.ID, &p.Issuer, &p.Repository, &p.Workflow, &p.Environment, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, oidc.ErrPublisherNotFound
		}
		return nil, fmt.Errorf("failed to find publisher: %w", err)
	}
	return &p, nil
}

// ListProjectIDs returns the ids of the projects bound to a publisher
func (r *PublisherRepository) ListProjectIDs(ctx context.Context, publisherID string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT project_id FROM oidc_publisher_projects WHERE publisher_id = $1
	`, publisherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list publisher projects: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddProject binds a project to a publisher
func (r *PublisherRepository) AddProject(ctx context.Context, publisherID, projectID string) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO oidc_publisher_projects (publisher_id, project_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, publisherID, projectID)
	if err != nil {
		return fmt.Errorf("failed to bind project: %w", err)
	}
	return nil
}
