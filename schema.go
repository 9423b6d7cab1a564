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
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

// LoadSchema reads the index-creation body at path. The contents are
// forwarded verbatim to Elasticsearch; only JSON well-formedness is
// checked, no structural validation is performed.
func LoadSchema(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	if !jsoniter.Valid(data) {
		return nil, fmt.Errorf("schema file %s is not valid JSON", path)
	}
	return data, nil
}
