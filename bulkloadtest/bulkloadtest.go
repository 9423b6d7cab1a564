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

// Package bulkloadtest provides a fake Elasticsearch server covering the
// three calls a load run makes: HEAD /<index>, PUT /<index> and
// POST /<index>/_bulk.
package bulkloadtest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// BulkResponse mirrors the bulk API response body.
type BulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]BulkResponseItem `json:"items"`
}

// BulkResponseItem mirrors one item of a bulk API response.
type BulkResponseItem struct {
	ID     string             `json:"_id"`
	Status int                `json:"status"`
	Error  *BulkResponseError `json:"error,omitempty"`
}

// BulkResponseError mirrors the error object of a failed bulk item.
type BulkResponseError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Document is one (action, source) pair decoded from a bulk request body.
type Document struct {
	Action string
	ID     string
	Source []byte
}

// DecodeBulkRequest decodes a /_bulk request's body, honoring gzip
// Content-Encoding. It returns the documents in submission order and an
// all-success response body.
func DecodeBulkRequest(r *http.Request) ([]Document, BulkResponse) {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		defer gr.Close()
		body = gr
	}

	scanner := bufio.NewScanner(body)
	var docs []Document
	var response BulkResponse
	for scanner.Scan() {
		action := make(map[string]struct {
			ID string `json:"_id"`
		})
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&action); err != nil {
			panic(err)
		}
		var actionType string
		for actionType = range action {
		}
		if !scanner.Scan() {
			panic("expected source")
		}
		source := append([]byte{}, scanner.Bytes()...)
		if !json.Valid(source) {
			panic(fmt.Errorf("invalid JSON: %s", source))
		}
		id := action[actionType].ID
		docs = append(docs, Document{Action: actionType, ID: id, Source: source})
		response.Items = append(response.Items, map[string]BulkResponseItem{
			actionType: {ID: id, Status: http.StatusCreated},
		})
	}
	return docs, response
}

// Server is a fake Elasticsearch endpoint backed by httptest. The zero
// value of IndexExists reports the index as absent; a PUT flips it.
type Server struct {
	*httptest.Server

	IndexExists atomic.Bool

	mu           sync.Mutex
	existsProbes int
	creates      int
	createBody   []byte
	bulkBodies   [][]Document
}

// NewServer starts a fake Elasticsearch server for index. If bulkHandler
// is nil, bulk requests are decoded, recorded and answered with an
// all-success response; a non-nil handler takes over the /_bulk endpoint
// entirely. The server is closed via t.Cleanup.
func NewServer(t testing.TB, index string, bulkHandler http.HandlerFunc) *Server {
	s := &Server{}
	mux := http.NewServeMux()
	mux.HandleFunc("/"+index, s.handleIndex)
	if bulkHandler == nil {
		bulkHandler = s.handleBulk
	}
	mux.HandleFunc("/"+index+"/_bulk", bulkHandler)
	s.Server = httptest.NewServer(product(mux))
	t.Cleanup(s.Close)
	return s
}

// product tags every response as Elasticsearch to satisfy the v8 client's
// product check.
func product(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodHead:
		s.mu.Lock()
		s.existsProbes++
		s.mu.Unlock()
		if s.IndexExists.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.creates++
		s.createBody = body
		s.mu.Unlock()
		s.IndexExists.Store(true)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"acknowledged":true,"index":%q}`, strings.TrimPrefix(r.URL.Path, "/"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	docs, response := DecodeBulkRequest(r)
	s.mu.Lock()
	s.bulkBodies = append(s.bulkBodies, docs)
	s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ExistsProbes returns the number of HEAD requests received.
func (s *Server) ExistsProbes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsProbes
}

// Creates returns the number of PUT index requests received.
func (s *Server) Creates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// CreateBody returns the body of the last PUT index request.
func (s *Server) CreateBody() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createBody
}

// BulkBodies returns the decoded bulk request bodies in arrival order.
// Only requests served by the default bulk handler are recorded.
func (s *Server) BulkBodies() [][]Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Document, len(s.bulkBodies))
	copy(out, s.bulkBodies)
	return out
}
