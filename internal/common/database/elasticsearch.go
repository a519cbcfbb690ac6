// internal/common/database/elasticsearch.go
package database

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"mailmerge-workers/internal/common/config"
	apperrors "mailmerge-workers/internal/common/errors"
)

// ElasticsearchClient holds the client used for the run audit index.
type ElasticsearchClient struct {
	Client *elasticsearch.Client
}

func NewElasticsearch(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	if len(cfg.Addresses) == 0 {
		return nil, apperrors.NewConfigurationError("database.elasticsearch.addresses is empty while audit is enabled")
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, apperrors.NewConfigurationErrorf("elasticsearch client: %v", err)
	}
	return &ElasticsearchClient{Client: es}, nil
}

func (c *ElasticsearchClient) Ping(ctx context.Context) error {
	res, err := c.Client.Ping(c.Client.Ping.WithContext(ctx))
	if err != nil {
		return apperrors.NewExternalServiceError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewExternalServiceError("elasticsearch", fmt.Errorf("ping: %s", res.Status()))
	}
	return nil
}
