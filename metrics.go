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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// loaderMetrics holds the counters recorded during one load run.
type loaderMetrics struct {
	docsAdded      metric.Int64Counter
	docsSkipped    metric.Int64Counter
	docsIndexed    metric.Int64Counter
	docsFailed     metric.Int64Counter
	bulkRequests   metric.Int64Counter
	filesProcessed metric.Int64Counter
	filesFailed    metric.Int64Counter
}

type counterMetric struct {
	name        string
	description string
	p           *metric.Int64Counter
}

func newLoaderMetrics(mp metric.MeterProvider) (*loaderMetrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter("github.com/searchtools/bulkload")
	ms := loaderMetrics{}
	counters := []counterMetric{
		{
			name:        "elasticsearch.docs.added",
			description: "The number of documents read from input files.",
			p:           &ms.docsAdded,
		},
		{
			name:        "elasticsearch.docs.skipped",
			description: "The number of documents skipped because the id field was missing or not a string.",
			p:           &ms.docsSkipped,
		},
		{
			name:        "elasticsearch.docs.indexed",
			description: "The number of documents accepted by the bulk API.",
			p:           &ms.docsIndexed,
		},
		{
			name:        "elasticsearch.docs.failed",
			description: "The number of documents rejected item-level by the bulk API.",
			p:           &ms.docsFailed,
		},
		{
			name:        "elasticsearch.bulk_requests.count",
			description: "The number of bulk requests completed.",
			p:           &ms.bulkRequests,
		},
		{
			name:        "files.processed",
			description: "The number of input files fully loaded.",
			p:           &ms.filesProcessed,
		},
		{
			name:        "files.failed",
			description: "The number of input files whose worker aborted.",
			p:           &ms.filesFailed,
		},
	}
	for _, c := range counters {
		m, err := meter.Int64Counter(
			c.name,
			metric.WithUnit("1"),
			metric.WithDescription(c.description),
		)
		if err != nil {
			return nil, fmt.Errorf("failed creating %s metric: %w", c.name, err)
		}
		*c.p = m
	}
	return &ms, nil
}
