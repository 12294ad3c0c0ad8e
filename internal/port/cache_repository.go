package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims a key for idempotency check, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a claimed key so the same request id can retry
	// after a failed attempt
	ReleaseIdempotency(ctx context.Context, key string) error
}
