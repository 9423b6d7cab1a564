// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulkload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

// StatusError is returned when Elasticsearch answers with an unexpected
// HTTP status. The status code is preserved for callers.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed with status code %d", e.Op, e.StatusCode)
}

// Sink is a handle onto the target index of one Elasticsearch cluster.
// Each worker owns its own Sink for the duration of one file; one more is
// used for initialization.
type Sink struct {
	client *elasticsearch.Client
	config Config
	logger *zap.Logger
}

// NewSink builds a Sink from cfg. When cfg.CloudID is set the client
// connects through the Elastic Cloud deployment ID with basic-auth
// credentials; otherwise a single-node transport for cfg.URL is built,
// with basic auth attached only when both user and password are present.
func NewSink(cfg Config, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	escfg := elasticsearch.Config{DisableRetry: true}
	if cfg.CloudID != "" {
		escfg.CloudID = cfg.CloudID
		escfg.Username = cfg.User
		escfg.Password = cfg.Password
	} else {
		escfg.Addresses = []string{cfg.URL}
		// Environment proxy settings must not redirect bulk traffic.
		escfg.Transport = &http.Transport{}
		if cfg.User != "" && cfg.Password != "" {
			escfg.Username = cfg.User
			escfg.Password = cfg.Password
		}
	}
	client, err := elasticsearch.NewClient(escfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}
	return &Sink{client: client, config: cfg, logger: logger}, nil
}

// ExistsIndex probes the target index. A 200 response maps to true, 404 to
// false and anything else to a StatusError.
func (s *Sink) ExistsIndex(ctx context.Context) (bool, error) {
	res, err := esapi.IndicesExistsRequest{
		Index: []string{s.config.IndexName},
	}.Do(ctx, s.client)
	if err != nil {
		return false, fmt.Errorf("index exists request: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, &StatusError{Op: "index exists", StatusCode: res.StatusCode}
}

// CreateIndex creates the target index with schema as the request body.
// Success is any 2xx response.
func (s *Sink) CreateIndex(ctx context.Context, schema []byte) error {
	res, err := esapi.IndicesCreateRequest{
		Index: s.config.IndexName,
		Body:  bytes.NewReader(schema),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("create index request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		s.logger.Warn("create index failed",
			zap.String("index", s.config.IndexName),
			zap.Int("status_code", res.StatusCode),
			zap.String("response", res.String()),
		)
		return &StatusError{Op: "create index", StatusCode: res.StatusCode}
	}
	s.logger.Info("index created", zap.String("index", s.config.IndexName))
	return nil
}

// NewBulkIndexer returns a BulkIndexer submitting to this sink's index.
func (s *Sink) NewBulkIndexer() (*BulkIndexer, error) {
	return NewBulkIndexer(BulkIndexerConfig{
		Client:           s.client,
		Index:            s.config.IndexName,
		IDField:          s.config.IDFieldName,
		CompressionLevel: s.config.CompressionLevel,
	})
}
