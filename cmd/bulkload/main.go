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

// Command bulkload loads newline-delimited JSON files from a directory
// tree into an Elasticsearch index.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/searchtools/bulkload"
)

var version = "0.2.0"

func main() {
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Error("load failed", zap.Error(err))
		os.Exit(1)
	}
}

// newLogger builds a production zap logger whose level comes from the
// LOG_LEVEL environment variable. The default level is info.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := zap.ParseAtomicLevel(v)
		if err != nil {
			return nil, fmt.Errorf("parsing LOG_LEVEL: %w", err)
		}
		cfg.Level = level
	}
	return cfg.Build()
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "bulkload INPUT_DIR",
		Short: "Load NDJSON files into an Elasticsearch index",
		Long: "bulkload reads every *.json file under INPUT_DIR as newline-delimited JSON\n" +
			"and submits the documents to the index named in the config file, creating\n" +
			"the index from the configured schema when it does not exist yet.",
		Args:          cobra.ExactArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logger, args[0], configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "The config yaml file for elasticsearch.")
	cmd.MarkFlagRequired("config")
	cmd.Flags().BoolP("version", "v", false, "Prints version information.")
	return cmd
}

func run(ctx context.Context, logger *zap.Logger, inputDir, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := bulkload.LoadConfig(configFile)
	if err != nil {
		return err
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	loader, err := bulkload.NewLoader(cfg, logger, provider)
	if err != nil {
		return err
	}
	if err := loader.Run(ctx, inputDir); err != nil {
		return err
	}
	logSummary(ctx, logger, reader)
	logger.Info("done")
	return nil
}

// logSummary collects the run counters once and logs their totals.
func logSummary(ctx context.Context, logger *zap.Logger, reader *sdkmetric.ManualReader) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		logger.Warn("collecting run metrics", zap.Error(err))
		return
	}
	var fields []zap.Field
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			fields = append(fields, zap.Int64(m.Name, total))
		}
	}
	logger.Info("run summary", fields...)
}
