package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"PredictionMarket/internal/config"
)

var (
	ErrLockHeld     = errors.New("lock already held")
	ErrCodeNotFound = errors.New("verification code not found")
)

// unlockScript deletes a lock key only if it still carries the caller's
// token, so an expired-and-reacquired lock is never released by the old
// holder.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

type Redis struct {
	client   *redis.Client
	unlockSc *redis.Script
}

func New(redisConfig config.RedisConfig) *Redis {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Host + ":" + strconv.Itoa(redisConfig.Port),
		Password: redisConfig.Password,
		DB:       redisConfig.Db,
	})

	return &Redis{
		client:   redisClient,
		unlockSc: redis.NewScript(unlockScript),
	}
}

// AcquireResolveLock takes the per-market resolution lock. It returns an
// unlock func that is safe to call more than once. The lock only guards
// concurrent resolutions in flight; idempotency of resolution itself rests
// on the market status compare-and-set in the store.
func (s *Redis) AcquireResolveLock(ctx context.Context, marketId uuid.UUID, ttl time.Duration) (func(), error) {
	const method = "AcquireResolveLock"
	log := slog.With("method", method, "market_id", marketId)

	key := "resolve:" + marketId.String()
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		log.Error("failed to acquire lock", "err", err)
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.unlockSc.Run(unlockCtx, s.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			log.Error("failed to release lock", "err", err)
		}
	}

	log.Debug("resolution lock acquired")
	return unlock, nil
}

// SaveVerificationCode stores an email verification code with a TTL,
// keyed by user id. A newer code replaces the previous one.
func (s *Redis) SaveVerificationCode(ctx context.Context, userId int64, code string, ttl time.Duration) error {
	const method = "SaveVerificationCode"
	log := slog.With("method", method, "user_id", userId)

	key := verifyKey(userId)
	if err := s.client.Set(ctx, key, code, ttl).Err(); err != nil {
		log.Error("failed to save verification code", "err", err)
		return fmt.Errorf("save verification code: %w", err)
	}

	log.Debug("verification code saved")
	return nil
}

// GetVerificationCode returns the live code for the user, or
// ErrCodeNotFound when none exists or it expired.
func (s *Redis) GetVerificationCode(ctx context.Context, userId int64) (string, error) {
	const method = "GetVerificationCode"
	log := slog.With("method", method, "user_id", userId)

	code, err := s.client.Get(ctx, verifyKey(userId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCodeNotFound
	}
	if err != nil {
		log.Error("failed to get verification code", "err", err)
		return "", fmt.Errorf("get verification code: %w", err)
	}

	return code, nil
}

// DeleteVerificationCode removes the code after a successful confirmation.
func (s *Redis) DeleteVerificationCode(ctx context.Context, userId int64) error {
	if err := s.client.Del(ctx, verifyKey(userId)).Err(); err != nil {
		return fmt.Errorf("delete verification code: %w", err)
	}
	return nil
}

func verifyKey(userId int64) string {
	return "verify:" + strconv.FormatInt(userId, 10)
}
