package metadata

import (
	"context"
)

// Keys under which the CLI keeps its session.
const (
	KeyEmail        = "email"
	KeyUserID       = "user_id"
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// SessionKeys lists every key a saved login consists of.
var SessionKeys = []string{KeyEmail, KeyUserID, KeyAccessToken, KeyRefreshToken}

// Repository is a small key/value store in the local SQLite file.
// Get returns (nil, nil) for a missing key.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetMany(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
