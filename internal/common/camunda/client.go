// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mailmerge-workers/internal/common/errors"
)

// Client wraps the Zeebe gRPC client with a startup topology check and retry.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	// RequestTimeout bounds each gateway command issued by this package.
	RequestTimeout time.Duration
	Retry          RetryConfig
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   10 * time.Second,
}

const defaultRequestTimeout = 10 * time.Second

// NewClientWithConfig dials the gateway and checks the topology before returning.
func NewClientWithConfig(cfg *ClientConfig) (*Client, error) {
	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry = DefaultRetryConfig
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlaintextConnection,
	})
	if err != nil {
		return nil, errors.NewConfigurationErrorf("zeebe client for %s: %v", cfg.GatewayAddress, err)
	}

	c := &Client{client: zeebeClient, config: cfg}
	if _, err := c.topology(context.Background()); err != nil {
		zeebeClient.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) topology(ctx context.Context) (*pb.TopologyResponse, error) {
	return withRetry(ctx, c.config.Retry, "topology", func(ctx context.Context) (*pb.TopologyResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
		return c.client.NewTopologyCommand().Send(ctx)
	})
}

func (c *Client) Close() error {
	return c.client.Close()
}

// HealthCheck asks the gateway for its topology once, without retry.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return mapZeebeError(err, "health check", 0)
	}
	return nil
}

// withRetry retries transient gateway failures with exponential backoff capped at MaxDelay.
func withRetry[T any](ctx context.Context, cfg RetryConfig, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) || attempt >= cfg.MaxRetries {
			return zero, mapZeebeError(err, operation, attempt)
		}

		select {
		case <-time.After(backoff(cfg, attempt)):
		case <-ctx.Done():
			return zero, errors.NewTimeoutError("zeebe", fmt.Errorf("%s cancelled after %d attempts: %w", operation, attempt+1, ctx.Err()))
		}
	}
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	if attempt > 30 {
		return cfg.MaxDelay
	}
	delay := cfg.BaseDelay * time.Duration(1<<attempt)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}

func isRetryable(err error) bool {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return true
		case codes.Unknown:
			// dial errors surface as Unknown; fall through to the message check
		default:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"connection refused", "connection reset", "broken pipe", "deadline exceeded"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// mapZeebeError converts gateway errors into StandardErrors.
func mapZeebeError(err error, operation string, attempt int) error {
	what := operation + " failed"
	if attempt > 0 {
		what = fmt.Sprintf("%s failed after %d attempts", operation, attempt+1)
	}
	wrapped := fmt.Errorf("%s: %w", what, err)

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return errors.NewTimeoutError("zeebe", wrapped)
	case codes.NotFound:
		return errors.NewNotFoundError("zeebe resource", operation)
	case codes.PermissionDenied, codes.Unauthenticated:
		return errors.NewConfigurationErrorf("zeebe rejected credentials: %v", err)
	default:
		return errors.NewExternalServiceError("zeebe", wrapped)
	}
}
