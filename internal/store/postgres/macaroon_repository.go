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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pypi/warehouse/internal/macaroons"
)

// MacaroonRepository implements macaroons.Repository
type MacaroonRepository struct {
	db *DB
}

// NewMacaroonRepository creates a new macaroon repository
func NewMacaroonRepository(db *DB) *MacaroonRepository {
	return &MacaroonRepository{db: db}
}

// Create inserts a macaroon record
func (r *MacaroonRepository) Create(ctx context.Context, m *macaroons.Macaroon) error {
	permissions, err := json.Marshal(m.PermissionsCaveat)
	if err != nil {
		return fmt.Errorf("failed to encode permissions caveat: %w", err)
	}
	caveats, err := json.Marshal(m.Caveats)
	if err != nil {
		return fmt.Errorf("failed to encode caveats: %w", err)
	}
	var additional []byte
	if m.Additional != nil {
		additional, err = json.Marshal(m.Additional)
		if err != nil {
			return fmt.Errorf("failed to encode additional data: %w", err)
		}
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO macaroons (
			id, user_id, oidc_publisher_id, description, created_at,
			permissions_caveat, caveats, additional, key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		m.ID, m.UserID, m.OIDCPublisherID, m.Description, m.Created,
		permissions, caveats, additional, m.Key,
	)
	if err != nil {
		return fmt.Errorf("failed to create macaroon: %w", err)
	}
	return nil
}

const macaroonColumns = `
	id, user_id, oidc_publisher_id, description, created_at, last_used,
	permissions_caveat, caveats, additional, key`

func scanMacaroon(row pgx.Row) (*macaroons.Macaroon, error) {
	var m macaroons.Macaroon
	var permissions, caveats, additional []byte

	err := row.Scan(
		&m.ID, &m.UserID, &m.OIDCPublisherID, &m.Description, &m.Created, &m.LastUsed,
		&permissions, &caveats, &additional, &m.Key,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(permissions, &m.PermissionsCaveat); err != nil {
		return nil, fmt.Errorf("failed to decode permissions caveat: %w", err)
	}
	if err := json.Unmarshal(caveats, &m.Caveats); err != nil {
		return nil, fmt.Errorf("failed to decode caveats: %w", err)
	}
	if additional != nil {
		if err := json.Unmarshal(additional, &m.Additional); err != nil {
			return nil, fmt.Errorf("failed to decode additional data: %w", err)
		}
	}
	return &m, nil
}

// GetByID retrieves a macaroon record by id
func (r *MacaroonRepository) GetByID(ctx context.Context, id string) (*macaroons.Macaroon, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+macaroonColumns+` FROM macaroons WHERE id = $1`, id)

	m, err := scanMacaroon(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, macaroons.ErrMacaroonNotFound
		}
		return nil, fmt.Errorf("failed to get macaroon: %w", err)
	}
	return m, nil
}

// GetByUserAndDescription retrieves a user's record with the given description
func (r *MacaroonRepository) GetByUserAndDescription(ctx context.Context, userID, description string) (*macaroons.Macaroon, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+macaroonColumns+` FROM macaroons WHERE user_id = $1 AND description = $2`,
		userID, description)

	m, err := scanMacaroon(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, macaroons.ErrMacaroonNotFound
		}
		return nil, fmt.Errorf("failed to get macaroon: %w", err)
	}
	return m, nil
}

// ListByUser returns a user's records, newest first
func (r *MacaroonRepository) ListByUser(ctx context.Context, userID string) ([]*macaroons.Macaroon, error) {
	rows, err := r.db.pool.Query(ctx,
		`SELECT `+macaroonColumns+` FROM macaroons WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list macaroons: %w", err)
	}
	defer rows.Close()

	var out []*macaroons.Macaroon
	for rows.Next() {
		m, err := scanMacaroon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan macaroon: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateLastUsed records a successful verification
func (r *MacaroonRepository) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.pool.Exec(ctx,
		`UPDATE macaroons SET last_used = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last used: %w", err)
	}
	if result.RowsAffected() == 0 {
		return macaroons.ErrMacaroonNotFound
	}
	return nil
}

// Delete hard-deletes the record; deleting a nonexistent id is a no-op
func (r *MacaroonRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM macaroons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete macaroon: %w", err)
	}
	return nil
}
