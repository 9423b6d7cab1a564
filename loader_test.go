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

package bulkload_test

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/searchtools/bulkload"
	"github.com/searchtools/bulkload/bulkloadtest"
)

const testSchema = `{"mappings":{"properties":{"id":{"type":"keyword"}}}}`

func writeInputFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func writeSchemaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(testSchema), 0o600))
	return path
}

func newTestLoaderConfig(t *testing.T, srv *bulkloadtest.Server, bufferSize int) bulkload.Config {
	t.Helper()
	return bulkload.Config{
		URL:         srv.URL,
		IndexName:   "docs",
		SchemaFile:  writeSchemaFile(t),
		IDFieldName: "id",
		BufferSize:  bufferSize,
	}
}

func runLoader(t *testing.T, cfg bulkload.Config, logger *zap.Logger, inputDir string) error {
	t.Helper()
	if logger == nil {
		logger = zaptest.NewLogger(t)
	}
	loader, err := bulkload.NewLoader(cfg, logger, nil)
	require.NoError(t, err)
	return loader.Run(context.Background(), inputDir)
}

func TestRunFreshIndex(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json",
		`{"id":"1","t":"x"}
{"id":"2","t":"y"}
{"id":"3","t":"z"}
`)

	cfg := newTestLoaderConfig(t, srv, 2)
	require.NoError(t, runLoader(t, cfg, nil, dir))

	assert.Equal(t, 1, srv.ExistsProbes())
	assert.Equal(t, 1, srv.Creates())
	assert.JSONEq(t, testSchema, string(srv.CreateBody()))

	bodies := srv.BulkBodies()
	require.Len(t, bodies, 2)
	require.Len(t, bodies[0], 2)
	require.Len(t, bodies[1], 1)
	assert.Equal(t, "1", bodies[0][0].ID)
	assert.Equal(t, `{"id":"1","t":"x"}`, string(bodies[0][0].Source))
	assert.Equal(t, "2", bodies[0][1].ID)
	assert.Equal(t, `{"id":"2","t":"y"}`, string(bodies[0][1].Source))
	assert.Equal(t, "3", bodies[1][0].ID)
}

func TestRunExistingIndex(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)
	srv.IndexExists.Store(true)
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json", `{"id":"1","t":"x"}`+"\n")

	cfg := newTestLoaderConfig(t, srv, 2)
	// The schema is loaded lazily, only when the index is absent.
	cfg.SchemaFile = filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, runLoader(t, cfg, nil, dir))

	assert.Equal(t, 1, srv.ExistsProbes())
	assert.Zero(t, srv.Creates())
	require.Len(t, srv.BulkBodies(), 1)
}

func TestRunEmptyDir(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)

	cfg := newTestLoaderConfig(t, srv, 2)
	require.NoError(t, runLoader(t, cfg, nil, t.TempDir()))

	// Initialization still runs; no bulk requests are made.
	assert.Equal(t, 1, srv.ExistsProbes())
	assert.Equal(t, 1, srv.Creates())
	assert.Empty(t, srv.BulkBodies())
}

func TestRunChunking(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json",
		`{"id":"1"}
{"id":"2"}
{"id":"3"}
{"id":"4"}
{"id":"5"}
`)

	cfg := newTestLoaderConfig(t, srv, 2)
	require.NoError(t, runLoader(t, cfg, nil, dir))

	// 5 documents with buffer_size 2 make ceil(5/2) = 3 bulk requests,
	// in file order.
	bodies := srv.BulkBodies()
	require.Len(t, bodies, 3)
	var ids []string
	for _, body := range bodies {
		for _, doc := range body {
			ids = append(ids, doc.ID)
		}
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, ids)
	assert.Len(t, bodies[2], 1)
}

func TestRunSkipsMissingID(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json",
		`{"id":"1","t":"x"}
{"t":"no id here"}
{"id":7,"t":"numeric id"}

{"id":"2","t":"y"}
`)

	cfg := newTestLoaderConfig(t, srv, 10)
	require.NoError(t, runLoader(t, cfg, nil, dir))

	bodies := srv.BulkBodies()
	require.Len(t, bodies, 1)
	require.Len(t, bodies[0], 2)
	assert.Equal(t, "1", bodies[0][0].ID)
	assert.Equal(t, "2", bodies[0][1].ID)
}

func TestRunItemFailuresLogged(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", func(w http.ResponseWriter, r *http.Request) {
		_, response := bulkloadtest.DecodeBulkRequest(r)
		response.Errors = true
		for i := range response.Items {
			item := response.Items[i]["index"]
			if item.ID != "2" {
				continue
			}
			item.Status = http.StatusBadRequest
			item.Error = &bulkloadtest.BulkResponseError{
				Type:   "mapper_parsing_exception",
				Reason: "failed to parse field [t]",
			}
			response.Items[i]["index"] = item
		}
		json.NewEncoder(w).Encode(response)
	})
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json",
		`{"id":"1","t":"x"}
{"id":"2","t":17}
`)

	core, logs := observer.New(zap.WarnLevel)
	cfg := newTestLoaderConfig(t, srv, 10)
	require.NoError(t, runLoader(t, cfg, zap.New(core), dir))

	entries := logs.FilterMessageSnippet("id:[2]").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "type:[mapper_parsing_exception]")
	assert.Contains(t, entries[0].Message, "reason:[failed to parse field [t]]")
}

func TestRunMixedOutcomes(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	srv := bulkloadtest.NewServer(t, "docs", func(w http.ResponseWriter, r *http.Request) {
		docs, response := bulkloadtest.DecodeBulkRequest(r)
		if strings.HasPrefix(docs[0].ID, "a") {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Lock()
		for _, doc := range docs {
			delivered = append(delivered, doc.ID)
		}
		mu.Unlock()
		json.NewEncoder(w).Encode(response)
	})
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json",
		`{"id":"a1"}
{"id":"a2"}
`)
	writeInputFile(t, dir, "b.json",
		`{"id":"b1"}
{"id":"b2"}
`)

	core, logs := observer.New(zap.WarnLevel)
	cfg := newTestLoaderConfig(t, srv, 10)
	// One worker fails on its bulk request; the run still succeeds.
	require.NoError(t, runLoader(t, cfg, zap.New(core), dir))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b1", "b2"}, delivered)
	assert.NotEmpty(t, logs.FilterMessageSnippet("file load aborted").All())
}

func TestRunInitError(t *testing.T) {
	srv := newFailingElasticsearch(t, http.StatusInternalServerError)
	cfg := bulkload.Config{
		URL:         srv.URL,
		IndexName:   "docs",
		SchemaFile:  writeSchemaFile(t),
		IDFieldName: "id",
		BufferSize:  2,
	}
	err := runLoader(t, cfg, nil, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probing index")
}

func TestRunMissingInputDir(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)
	cfg := newTestLoaderConfig(t, srv, 2)
	err := runLoader(t, cfg, nil, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovering input files")
}

func TestRunDiscoversNestedJSONOnly(t *testing.T) {
	srv := bulkloadtest.NewServer(t, "docs", nil)
	dir := t.TempDir()
	writeInputFile(t, dir, "a.json", `{"id":"a"}`+"\n")
	writeInputFile(t, dir, filepath.Join("nested", "deep", "d.json"), `{"id":"d"}`+"\n")
	writeInputFile(t, dir, "upper.JSON", `{"id":"upper"}`+"\n")
	writeInputFile(t, dir, "notes.txt", `{"id":"txt"}`+"\n")

	cfg := newTestLoaderConfig(t, srv, 10)
	require.NoError(t, runLoader(t, cfg, nil, dir))

	var ids []string
	for _, body := range srv.BulkBodies() {
		for _, doc := range body {
			ids = append(ids, doc.ID)
		}
	}
	sort.Strings(ids)
	// The *.json match is case-sensitive.
	assert.Equal(t, []string{"a", "d"}, ids)
}
