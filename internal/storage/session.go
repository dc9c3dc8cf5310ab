package storage

import (
	"context"
	"errors"

	"github.com/dbt-portal/dbtsync/pkg/types"
)

// SaveUser stores the signed-in identity under the session user key.
func (s *Storage) SaveUser(ctx context.Context, user types.Identity) error {
	return s.Put(ctx, types.SessionUserKey, user)
}

// User returns the stored identity. ok is false when no user is stored.
func (s *Storage) User(ctx context.Context) (user types.Identity, ok bool, err error) {
	err = s.Get(ctx, types.SessionUserKey, &user)
	if errors.Is(err, ErrNotFound) {
		return types.Identity{}, false, nil
	}
	if err != nil {
		return types.Identity{}, false, err
	}
	return user, true, nil
}

// SaveToken stores the bearer token.
func (s *Storage) SaveToken(ctx context.Context, token string) error {
	return s.Put(ctx, types.SessionTokenKey, token)
}

// Token returns the stored bearer token, or "" when none is stored.
func (s *Storage) Token(ctx context.Context) (string, error) {
	var token string
	err := s.Get(ctx, types.SessionTokenKey, &token)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return token, err
}

// ClearSession removes the stored user and token.
func (s *Storage) ClearSession(ctx context.Context) error {
	if err := s.Delete(ctx, types.SessionUserKey); err != nil {
		return err
	}
	return s.Delete(ctx, types.SessionTokenKey)
}
