// Command nebula-core loads the engine configuration, logs it, and
// serves the Prometheus /metrics endpoint, for local development and
// smoke testing. It starts no worker pool and registers no query; query
// registration in production is driven by an embedding service, not
// this binary. It exists to exercise config loading, logging, and
// metrics wiring end to end.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nebulastream/nebula-core/internal/config"
	"github.com/nebulastream/nebula-core/internal/obs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nebula-core:", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("nebula-core", pflag.ExitOnError)
	metricsAddr := fs.String("metrics-addr", ":9090", "address to serve /metrics on")
	config.BindFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	cfg, err := config.Load(viper.New(), fs)
	if err != nil {
		return err
	}

	log, err := obs.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	metrics := obs.NewMetrics(nil)

	log.Sugar().Infow("engine configured",
		"slice_size", cfg.SliceSize,
		"partition_count", cfg.PartitionCount,
		"worker_count", cfg.WorkerCount,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	log.Sugar().Infow("serving metrics", "addr", *metricsAddr)
	return http.ListenAndServe(*metricsAddr, mux)
}
