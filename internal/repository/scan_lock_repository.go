package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it still carries the caller's token,
// so an expired lock re-acquired by another scan is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ScanLockRepository holds short-lived in-flight markers for scan codes.
type ScanLockRepository struct {
	client *redis.Client
	prefix string
}

// NewScanLockRepository constructs the repository.
func NewScanLockRepository(client *redis.Client) *ScanLockRepository {
	return &ScanLockRepository{client: client, prefix: "scan:inflight:"}
}

// Acquire sets the marker for key if absent. It returns the release token and
// whether the marker was acquired. Without a client every acquire succeeds.
func (r *ScanLockRepository) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if r == nil || r.client == nil {
		return "", true, nil
	}
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire scan lock %s: %w", key, err)
	}
	return token, ok, nil
}

// Release removes the marker when it is still owned by token.
func (r *ScanLockRepository) Release(ctx context.Context, key, token string) error {
	if r == nil || r.client == nil || token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("release scan lock %s: %w", key, err)
	}
	return nil
}
