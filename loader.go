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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 10 * 1024 * 1024

// Loader discovers NDJSON files under an input directory and loads them
// into the configured index, one worker per file.
type Loader struct {
	config  Config
	logger  *zap.Logger
	metrics *loaderMetrics
}

// NewLoader returns a Loader for cfg. A nil logger disables logging; a nil
// MeterProvider falls back to the OTel global one.
func NewLoader(cfg Config, logger *zap.Logger, mp metric.MeterProvider) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ms, err := newLoaderMetrics(mp)
	if err != nil {
		return nil, err
	}
	return &Loader{config: cfg, logger: logger, metrics: ms}, nil
}

// Run performs one-time index initialization and then loads every *.json
// file under inputDir with bounded parallelism. A worker failure is
// confined to its file and logged at warning; Run returns an error only
// when initialization or file discovery fails.
func (l *Loader) Run(ctx context.Context, inputDir string) error {
	if err := l.initialize(ctx); err != nil {
		return err
	}

	files, err := discoverFiles(inputDir)
	if err != nil {
		return fmt.Errorf("discovering input files: %w", err)
	}
	l.logger.Info("discovered input files",
		zap.String("dir", inputDir),
		zap.Int("count", len(files)),
	)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range files {
		path := path
		g.Go(func() error {
			if err := l.loadFile(ctx, path); err != nil {
				l.logger.Warn("file load aborted",
					zap.String("file", path),
					zap.Error(err),
				)
				l.metrics.filesFailed.Add(ctx, 1)
				return nil
			}
			l.metrics.filesProcessed.Add(ctx, 1)
			return nil
		})
	}
	return g.Wait()
}

// initialize probes the target index and creates it from the schema file
// when absent. It completes before any worker starts.
func (l *Loader) initialize(ctx context.Context) error {
	sink, err := NewSink(l.config, l.logger)
	if err != nil {
		return err
	}
	exists, err := sink.ExistsIndex(ctx)
	if err != nil {
		return fmt.Errorf("probing index %s: %w", l.config.IndexName, err)
	}
	if exists {
		l.logger.Info("index already exists, skipping initialization",
			zap.String("index", l.config.IndexName),
		)
		return nil
	}
	schema, err := LoadSchema(l.config.SchemaFile)
	if err != nil {
		return err
	}
	l.logger.Info("creating index", zap.String("index", l.config.IndexName))
	if err := sink.CreateIndex(ctx, schema); err != nil {
		return fmt.Errorf("creating index %s: %w", l.config.IndexName, err)
	}
	return nil
}

// discoverFiles collects every file under dir whose name ends in ".json".
// The suffix match is case-sensitive. An empty result is not an error.
func discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// loadFile reads one file line by line and submits its documents in chunks
// of at most buffer_size. Chunk N's response is observed before chunk N+1
// is built, so peak memory stays at one chunk of serialized JSON. A
// document whose id field is missing or not a string is skipped with a
// warning and never reaches a bulk body.
func (l *Loader) loadFile(ctx context.Context, path string) error {
	sink, err := NewSink(l.config, l.logger)
	if err != nil {
		return err
	}
	indexer, err := sink.NewBulkIndexer()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	l.logger.Info("reading file", zap.String("file", path))
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := indexer.Add(scanner.Bytes()); err != nil {
			if errors.Is(err, ErrMissingID) {
				l.logger.Warn("skipping document",
					zap.String("file", path),
					zap.Error(err),
				)
				l.metrics.docsSkipped.Add(ctx, 1)
				continue
			}
			return err
		}
		l.metrics.docsAdded.Add(ctx, 1)
		if indexer.Items() >= l.config.BufferSize {
			if err := l.flush(ctx, indexer); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := l.flush(ctx, indexer); err != nil {
		return err
	}
	l.logger.Info("finished file", zap.String("file", path))
	return nil
}

// flush submits the buffered chunk, if any, and logs every item-level
// failure. Item failures are reported, not propagated.
func (l *Loader) flush(ctx context.Context, indexer *BulkIndexer) error {
	n := indexer.Items()
	if n == 0 {
		return nil
	}
	l.logger.Debug("sending documents", zap.Int("count", n))
	stat, err := indexer.Flush(ctx)
	if err != nil {
		return err
	}
	l.metrics.bulkRequests.Add(ctx, 1)
	l.metrics.docsIndexed.Add(ctx, stat.Indexed)
	l.metrics.docsFailed.Add(ctx, int64(len(stat.FailedDocs)))
	for _, item := range stat.FailedDocs {
		l.logger.Warn(fmt.Sprintf(
			"failed to index document id:[%s] type:[%s] reason:[%s]",
			item.ID, item.Error.Type, item.Error.Reason,
		), zap.Int("status", item.Status))
	}
	return nil
}
