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

// Package oidc implements trusted publishing: CI systems present a signed
// identity token and exchange it for a short-lived, publisher-scoped API
// token. No long-lived credential ever reaches the CI environment.
package oidc

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrPublisherNotFound = errors.New("no trusted publisher matches the presented token")
	ErrInvalidToken      = errors.New("invalid identity token")
)

// Publisher is one registered trusted publisher: a (repository, workflow)
// identity at an external issuer, bound to one or more projects.
type Publisher struct {
	ID string

	// Issuer is the external identity provider, e.g.
	// https://token.actions.githubusercontent.com.
	Issuer string

	// Repository is the owner/name the workflow runs in.
	Repository string

	// Workflow is the filename of the publishing workflow.
	Workflow string

	// Environment optionally pins a deployment environment; empty matches
	// any.
	Environment string

	CreatedAt time.Time
}

// PublisherRepository defines the interface for publisher persistence
type PublisherRepository interface {
	// Create registers a publisher
	Create(ctx context.Context, p *Publisher) error

	// GetByID retrieves a publisher by ID
	GetByID(ctx context.Context, id string) (*Publisher, error)

	// FindByClaims returns the publisher matching the presented token's
	// identity, or ErrPublisherNotFound. A publisher with a pinned
	// environment only matches that environment.
	FindByClaims(ctx context.Context, issuer, repository, workflow, environment string) (*Publisher, error)

	// ListProjectIDs returns the ids of the projects bound to a publisher.
	ListProjectIDs(ctx context.Context, publisherID string) ([]string, error)

	// AddProject binds a project to a publisher.
	AddProject(ctx context.Context, publisherID, projectID string) error
}
