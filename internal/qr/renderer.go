// internal/qr/renderer.go
package qr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/skip2/go-qrcode"

	apperrors "mailmerge-workers/internal/common/errors"
	commonhttp "mailmerge-workers/internal/common/http"
	"mailmerge-workers/internal/common/logger"
)

// Image is a rendered QR code.
type Image struct {
	ContentType string
	Data        []byte
}

// Renderer turns a payload string into an image of size×size pixels.
type Renderer interface {
	Render(ctx context.Context, payload string, size int) (*Image, error)
}

// ==========================
// HTTP renderer
// ==========================

// HTTPRenderer calls a QR rendering service that accepts `size=<n>x<n>&data=<payload>`.
type HTTPRenderer struct {
	baseURL string
	client  *commonhttp.Client
}

func NewHTTPRenderer(baseURL string, client *commonhttp.Client) *HTTPRenderer {
	return &HTTPRenderer{baseURL: baseURL, client: client}
}

func (r *HTTPRenderer) Render(ctx context.Context, payload string, size int) (*Image, error) {
	u, err := url.Parse(r.baseURL)
	if err != nil {
		return nil, apperrors.NewConfigurationErrorf("invalid QR renderer url %q", r.baseURL)
	}
	q := u.Query()
	q.Set("size", fmt.Sprintf("%dx%d", size, size))
	q.Set("data", payload)
	u.RawQuery = q.Encode()

	body, contentType, err := r.client.GetBytes(ctx, u.String())
	if err != nil {
		return nil, apperrors.NewExternalServiceError("qr-renderer", err)
	}
	if len(body) == 0 {
		return nil, apperrors.NewExternalServiceError("qr-renderer", errors.New("empty image"))
	}
	if contentType == "" {
		contentType = "image/png"
	}
	return &Image{ContentType: contentType, Data: body}, nil
}

// ==========================
// Local renderer
// ==========================

// LocalRenderer encodes PNGs in process.
type LocalRenderer struct {
	level qrcode.RecoveryLevel
}

func NewLocalRenderer() *LocalRenderer {
	return &LocalRenderer{level: qrcode.Medium}
}

func (r *LocalRenderer) Render(_ context.Context, payload string, size int) (*Image, error) {
	png, err := qrcode.Encode(payload, r.level, size)
	if err != nil {
		return nil, apperrors.NewExternalServiceError("qr-encoder", err)
	}
	return &Image{ContentType: "image/png", Data: png}, nil
}

// ==========================
// Redis cache
// ==========================

const imageKeyPrefix = "mailmerge:qr:"

// CachedRenderer memoizes rendered images in Redis. Cache errors are logged and bypassed.
type CachedRenderer struct {
	next Renderer
	rdb  redis.Cmdable
	ttl  time.Duration
	log  logger.Logger
}

func NewCachedRenderer(next Renderer, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedRenderer {
	return &CachedRenderer{next: next, rdb: rdb, ttl: ttl, log: log}
}

type cachedImage struct {
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

func imageKey(payload string, size int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(size) + "|" + payload))
	return imageKeyPrefix + hex.EncodeToString(sum[:])
}

func (r *CachedRenderer) Render(ctx context.Context, payload string, size int) (*Image, error) {
	key := imageKey(payload, size)

	raw, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var c cachedImage
		if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil && len(c.Data) > 0 {
			return &Image{ContentType: c.ContentType, Data: c.Data}, nil
		}
	case errors.Is(err, redis.Nil):
	default:
		r.log.Warn("qr cache unavailable", map[string]interface{}{"error": err.Error()})
	}

	img, err := r.next.Render(ctx, payload, size)
	if err != nil {
		return nil, err
	}

	encoded, _ := json.Marshal(cachedImage{ContentType: img.ContentType, Data: img.Data})
	if err := r.rdb.Set(ctx, key, encoded, r.ttl).Err(); err != nil {
		r.log.Warn("qr cache write failed", map[string]interface{}{"error": err.Error()})
	}
	return img, nil
}
