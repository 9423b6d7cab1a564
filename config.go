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
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

// Config describes the target index and the connection parameters for one
// load run. It is built once at startup from a YAML file and is immutable
// afterwards; workers share it read-only.
type Config struct {
	// URL holds the address of a single Elasticsearch node. It is ignored
	// when CloudID is set.
	URL string `yaml:"url"`

	// CloudID selects the connection via an Elastic Cloud deployment ID
	// instead of a plain URL. It requires User and Password.
	CloudID string `yaml:"cloud_id"`

	// User and Password hold HTTP basic-auth credentials. Authentication
	// is attached only when both are present; a lone value is discarded.
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// IndexName holds the index documents are loaded into.
	IndexName string `yaml:"index_name"`

	// SchemaFile points at the JSON body used to create the index when it
	// does not exist yet.
	SchemaFile string `yaml:"schema_file"`

	// IDFieldName names the document field whose string value becomes the
	// _id of the bulk action line.
	IDFieldName string `yaml:"id_field_name"`

	// BufferSize holds the maximum number of documents submitted in one
	// bulk request.
	BufferSize int `yaml:"buffer_size"`

	// CompressionLevel holds the gzip compression level for bulk request
	// bodies, from 0 (gzip.NoCompression) to 9 (gzip.BestCompression).
	// The special value -1 (gzip.DefaultCompression) selects the default
	// compression level.
	CompressionLevel int `yaml:"compression_level"`
}

// LoadConfig reads and validates the YAML configuration at path. Any
// violation is fatal at startup.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.CloudID == "" && c.URL == "" {
		return errors.New("one of url or cloud_id is required")
	}
	if c.CloudID != "" && (c.User == "" || c.Password == "") {
		return errors.New("cloud_id requires both user and password")
	}
	if c.IndexName == "" {
		return errors.New("index_name is required")
	}
	if c.SchemaFile == "" {
		return errors.New("schema_file is required")
	}
	if c.IDFieldName == "" {
		return errors.New("id_field_name is required")
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be a positive integer, got %d", c.BufferSize)
	}
	if c.CompressionLevel < gzip.DefaultCompression || c.CompressionLevel > gzip.BestCompression {
		return fmt.Errorf("expected compression_level in range [-1,9], got %d", c.CompressionLevel)
	}
	// Basic auth needs both halves.
	if (c.User == "") != (c.Password == "") {
		c.User, c.Password = "", ""
	}
	return nil
}
