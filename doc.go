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

// Package bulkload loads newline-delimited JSON documents from a directory
// tree into an Elasticsearch index through the bulk API.
//
// A run performs one-time index bootstrap (existence probe, creation from a
// schema document when the index is absent) and then processes every *.json
// file found under the input directory in parallel, one worker per file.
// Each worker frames its documents into bulk requests of at most
// buffer_size documents, submitted strictly in file order.
package bulkload
