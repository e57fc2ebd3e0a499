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

package oidc

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pypi/warehouse/internal/audit"
	"github.com/pypi/warehouse/internal/caveats"
	"github.com/pypi/warehouse/internal/macaroons"
)

// Service performs the identity-token-for-API-token exchange
type Service struct {
	publishers    PublisherRepository
	macaroons     *macaroons.Service
	keyfunc       jwt.Keyfunc
	audience      string
	location      string
	tokenLifetime time.Duration
	auditLogger   audit.Logger
}

// NewService creates a new token exchange service. keyfunc resolves issuer
// signing keys; in production it is backed by each issuer's JWKS endpoint.
func NewService(
	publishers PublisherRepository,
	macaroonSvc *macaroons.Service,
	keyfunc jwt.Keyfunc,
	audience string,
	location string,
	tokenLifetime time.Duration,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		publishers:    publishers,
		macaroons:     macaroonSvc,
		keyfunc:       keyfunc,
		audience:      audience,
		location:      location,
		tokenLifetime: tokenLifetime,
		auditLogger:   auditLogger,
	}
}

// ExchangeToken validates a signed identity token, matches it to a
// registered publisher, and mints a short-lived API token scoped to that
// publisher's projects. The returned token carries an expiration caveat, so
// it stays narrow even if revocation lags.
func (s *Service) ExchangeToken(ctx context.Context, rawJWT string) (string, *macaroons.Macaroon, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawJWT, claims, s.keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	issuer, _ := claims["iss"].(string)
	repository, _ := claims["repository"].(string)
	workflow, _ := claims["workflow"].(string)
	environment, _ := claims["environment"].(string)
	if issuer == "" || repository == "" || workflow == "" {
		return "", nil, fmt.Errorf("%w: missing identity claims", ErrInvalidToken)
	}

	publisher, err := s.publishers.FindByClaims(ctx, issuer, repository, workflow, environment)
	if err != nil {
		return "", nil, ErrPublisherNotFound
	}

	projectIDs, err := s.publishers.ListProjectIDs(ctx, publisher.ID)
	if err != nil {
		return "", nil, fmt.Errorf("listing publisher projects: %w", err)
	}

	now := time.Now()
	scopes := []caveats.Caveat{
		caveats.Expiration{
			NotBefore: now.Unix(),
			ExpiresAt: now.Add(s.tokenLifetime).Unix(),
		},
		caveats.OIDCPublisher{PublisherID: publisher.ID},
		caveats.ProjectIDs{IDs: projectIDs},
	}

	description := fmt.Sprintf("OpenID token: %s (%d)", repository, now.Unix())
	token, rec, err := s.macaroons.CreateMacaroon(ctx, s.location, description, scopes,
		macaroons.CreateOptions{
			OIDCPublisherID: publisher.ID,
			Additional:      map[string]any(claims),
		})
	if err != nil {
		return "", nil, fmt.Errorf("minting token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTokenExchange,
		ActorID:  publisher.ID,
		Resource: rec.ID,
		Metadata: map[string]any{"repository": repository, "workflow": workflow},
	})

	return token, rec, nil
}

// IdentityFor builds the request identity for a publisher-issued token.
func (s *Service) IdentityFor(ctx context.Context, publisherID string) (*caveats.PublisherIdentity, error) {
	projectIDs, err := s.publishers.ListProjectIDs(ctx, publisherID)
	if err != nil {
		return nil, fmt.Errorf("listing publisher projects: %w", err)
	}
	return &caveats.PublisherIdentity{PublisherID: publisherID, ProjectIDs: projectIDs}, nil
}
