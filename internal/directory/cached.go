package directory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"notifyqueue/internal/model"
)

// CachedDirectory 在 Redis 中缓存联系人；Redis 不可用时直接回落到下一级目录
type CachedDirectory struct {
	rdb    *redis.Client
	next   Directory
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedDirectory(rdb *redis.Client, next Directory, ttl time.Duration, logger *zap.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedDirectory{rdb: rdb, next: next, ttl: ttl, logger: logger}
}

func (d *CachedDirectory) Resolve(ctx context.Context, recipientKey string) (model.Contact, error) {
	key := cacheKey(recipientKey)

	raw, err := d.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c model.Contact
		if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil {
			return c, nil
		}
		d.logger.Warn("Discarding corrupt cached contact", zap.String("recipient_key", recipientKey))
	case err != redis.Nil:
		d.logger.Warn("Contact cache unavailable, falling back",
			zap.String("recipient_key", recipientKey),
			zap.Error(err),
		)
		return d.next.Resolve(ctx, recipientKey)
	}

	c, err := d.next.Resolve(ctx, recipientKey)
	if err != nil {
		// 未找到不缓存，联系人可能稍后登记
		return c, err
	}

	if raw, err := json.Marshal(c); err == nil {
		if err := d.rdb.Set(ctx, key, raw, d.ttl).Err(); err != nil {
			d.logger.Warn("Failed to cache contact", zap.String("recipient_key", recipientKey), zap.Error(err))
		}
	}
	return c, nil
}

// Invalidate drops the cached entry after the contact changes.
func (d *CachedDirectory) Invalidate(ctx context.Context, recipientKey string) error {
	return d.rdb.Del(ctx, cacheKey(recipientKey)).Err()
}

func cacheKey(recipientKey string) string {
	return "contact:" + recipientKey
}
