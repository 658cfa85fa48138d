// Command stress fires concurrent borrows at a running API and fails when
// the item lends out more units than it holds.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ghuser/toolcrib/pkg/config"
	"github.com/ghuser/toolcrib/pkg/logger"
)

func main() {
	var opts options
	help, err := conf.Parse("STRESS", &opts)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return
		}
		slog.Error("failed to parse options", "error", err)
		os.Exit(1)
	}

	log := logger.New(&config.Config{LogLevel: "info", ServiceName: "toolcrib-stress"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	rep, err := run(ctx, opts, client, log)
	if err != nil {
		log.Error("stress run failed", "error", err)
		os.Exit(1) //nolint:gocritic
	}

	log.Info("stress run finished",
		"equipment_id", rep.EquipmentID,
		"stock", rep.Stock,
		"succeeded", rep.Succeeded,
		"rejected", rep.Rejected,
		"conflicts", rep.Conflicts,
		"failed", rep.Failed,
		"available_after", rep.Available,
		"elapsed", rep.Elapsed,
	)
	if rep.Oversold() {
		log.Error("oversell detected", "succeeded", rep.Succeeded, "stock", rep.Stock, "available_after", rep.Available)
		os.Exit(2) //nolint:gocritic
	}
}
