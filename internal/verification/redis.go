package verification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"unitools/market-api/internal/model"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const keyPrefix = "pending:"

var (
	consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "listing_id") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	reserveScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "listing_id") ~= ARGV[1] then
	return -1
end
if tonumber(redis.call("HGET", KEYS[1], "attempts")) >= tonumber(ARGV[2]) then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)`)
)

// RedisStore keeps one hash per email and lets redis expire it
type RedisStore struct {
	C *redis.Client
}

func NewRedisStore(c *redis.Client) *RedisStore {
	return &RedisStore{C: c}
}

// ConnectRedis dials addr and checks the connection with a ping
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis, %w", err)
	}

	return rdb, nil
}

func (s *RedisStore) Save(ctx context.Context, p *model.PendingVerification) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.Attempts = 0

	key := keyPrefix + p.Email

	_, err := s.C.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]any{
			"code_hash":  p.CodeHash,
			"listing_id": p.ListingID,
			"kind":       p.Kind,
			"attempts":   0,
			"expires_at": p.ExpiresAt.UnixMilli(),
			"created_at": p.CreatedAt.UnixMilli(),
		})
		pipe.PExpireAt(ctx, key, p.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save pending verification, %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, email string) (*model.PendingVerification, error) {
	vals, err := s.C.HGetAll(ctx, keyPrefix+email).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending verification, %w", err)
	}

	if len(vals) == 0 {
		return nil, ErrNotFound
	}

	attempts, _ := strconv.Atoi(vals["attempts"])
	expiresAt, _ := strconv.ParseInt(vals["expires_at"], 10, 64)
	createdAt, _ := strconv.ParseInt(vals["created_at"], 10, 64)

	return &model.PendingVerification{
		Email:     email,
		CodeHash:  vals["code_hash"],
		ListingID: vals["listing_id"],
		Kind:      vals["kind"],
		Attempts:  attempts,
		ExpiresAt: time.UnixMilli(expiresAt),
		CreatedAt: time.UnixMilli(createdAt),
	}, nil
}

func (s *RedisStore) ReserveAttempt(ctx context.Context, email, listingID string, max int) (int, error) {
	n, err := reserveScript.Run(ctx, s.C, []string{keyPrefix + email}, listingID, max).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to reserve attempt, %w", err)
	}

	if n < 0 {
		return 0, ErrNotFound
	}

	return n, nil
}

func (s *RedisStore) Consume(ctx context.Context, email, listingID string) (bool, error) {
	n, err := consumeScript.Run(ctx, s.C, []string{keyPrefix + email}, listingID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to consume pending verification, %w", err)
	}

	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, email, listingID string) error {
	_, err := s.Consume(ctx, email, listingID)
	return err
}

// WithTx returns s, redis writes can't join a SQL transaction. Callers run
// them last so a false Consume still rolls the transaction back.
func (s *RedisStore) WithTx(*gorm.DB) Store {
	return s
}

// CleanupExpired is a no-op, redis expires the hashes itself
func (s *RedisStore) CleanupExpired(context.Context) (int64, error) {
	return 0, nil
}

func (s *RedisStore) ListingIDs(ctx context.Context) ([]string, error) {
	var ids []string

	iter := s.C.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id, err := s.C.HGet(ctx, iter.Val(), "listing_id").Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}

			return nil, fmt.Errorf("failed to read %s, %w", iter.Val(), err)
		}

		ids = append(ids, id)
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan pending verifications, %w", err)
	}

	return ids, nil
}
