// cmd/check-capsules/main.go runs a single check and prints the result.
// Intended for cron; exits 1 when the run fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"capsule-notifier/internal/app"
	"capsule-notifier/internal/common/config"
	"capsule-notifier/internal/common/logger"
	checkcapsules "capsule-notifier/internal/workers/capsule/check-capsules"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: configs/config.yaml)")
	limit := flag.Int("limit", 0, "maximum number of capsules to process (0 = no limit)")
	dryRun := flag.Bool("dry-run", false, "report due capsules without sending")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	os.Exit(run(*configPath, &checkcapsules.Input{
		Limit:   *limit,
		DryRun:  *dryRun,
		Trigger: checkcapsules.TriggerCLI,
	}, *timeout))
}

func run(configPath string, input *checkcapsules.Input, timeout time.Duration) int {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}

	// Logs go to stderr so stdout carries only the JSON result.
	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, "stderr")
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	application, err := app.New(ctx, cfg, log, app.Options{ConnectRetries: 3})
	if err != nil {
		log.Error("startup failed", map[string]interface{}{"error": err})
		return 1
	}
	defer application.Close()

	output, err := application.Handler.Execute(ctx, input)
	if err != nil {
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{"error": err.Error()})
		return 1
	}

	if err := json.NewEncoder(os.Stdout).Encode(output); err != nil {
		log.Error("failed to write result", map[string]interface{}{"error": err})
		return 1
	}
	return 0
}
