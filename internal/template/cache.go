// internal/template/cache.go
package template

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"mailmerge-workers/internal/common/logger"
)

const cacheKeyPrefix = "mailmerge:template:"

// CachedStore is a Redis read-through cache in front of another Store. Attachments are not
// cached; templates with attachments always go to the backing store.
type CachedStore struct {
	next Store
	rdb  redis.Cmdable
	ttl  time.Duration
	log  logger.Logger
}

func NewCachedStore(next Store, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedStore {
	return &CachedStore{next: next, rdb: rdb, ttl: ttl, log: log}
}

type cachedTemplate struct {
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

func (s *CachedStore) Get(ctx context.Context, topic string) (*Template, error) {
	key := cacheKeyPrefix + topic

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c cachedTemplate
		if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil {
			return &Template{Topic: topic, Subject: c.Subject, Text: c.Text, HTML: c.HTML}, nil
		}
		s.log.Warn("discarding corrupt cached template", map[string]interface{}{"topic": topic})
	case errors.Is(err, redis.Nil):
	default:
		s.log.Warn("template cache unavailable", map[string]interface{}{"topic": topic, "error": err.Error()})
	}

	tpl, err := s.next.Get(ctx, topic)
	if err != nil {
		return nil, err
	}
	if len(tpl.Attachments) > 0 {
		return tpl, nil
	}

	payload, _ := json.Marshal(cachedTemplate{Subject: tpl.Subject, Text: tpl.Text, HTML: tpl.HTML})
	if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.log.Warn("template cache write failed", map[string]interface{}{"topic": topic, "error": err.Error()})
	}
	return tpl, nil
}

// Invalidate drops a cached topic.
func (s *CachedStore) Invalidate(ctx context.Context, topic string) error {
	return s.rdb.Del(ctx, cacheKeyPrefix+topic).Err()
}
