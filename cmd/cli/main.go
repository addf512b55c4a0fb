package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"

	"redlight/internal/apiclient"
	"redlight/internal/assessment/evaluation"
	"redlight/internal/assessment/execution"
	"redlight/internal/assessment/session"
	"redlight/internal/assessment/signal"
	"redlight/internal/cli/config"
	"redlight/internal/cli/repl"
	"redlight/internal/cli/state"
	"redlight/internal/common/httpclient"
	"redlight/pkg/utils/logger"
)

const defaultConfigPath = "configs/cli.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	baseURL := flag.String("base", "", "Override base URL")
	timeout := flag.Duration("timeout", 0, "Override HTTP timeout (e.g. 10s)")
	token := flag.String("token", "", "Override access token")
	statePath := flag.String("state", "", "Override token state path")
	ephemeral := flag.Bool("ephemeral", false, "Keep work in memory only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
		cfg.SignalURL = config.SignalURLFor(cfg.BaseURL)
	}
	if *timeout > 0 {
		cfg.Timeout = *timeout
	}
	if *statePath != "" {
		cfg.TokenStatePath = *statePath
	}

	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: "json", OutputPath: cfg.LogPath}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load token state failed: %v\n", err)
		return
	}
	if *token != "" {
		tokenState.AccessToken = *token
	}

	var store session.SlotStore = session.NewMemoryStore()
	if !*ephemeral {
		boltStore, err := session.OpenBoltStore(cfg.SlotStorePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open work store failed: %v\n", err)
			return
		}
		defer func() {
			_ = boltStore.Close()
		}()
		store = boltStore
	}

	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return tokenState.AccessToken
	})

	r, err := repl.New(repl.Options{
		API:   apiclient.New(client),
		Store: store,
		NewChannel: func(accessToken string) (signal.Channel, error) {
			header := http.Header{}
			header.Set("Authorization", "Bearer "+accessToken)
			return signal.NewWSChannel(signal.WSChannelConfig{URL: cfg.SignalURL, Header: header})
		},
		Runner:      execution.Config{Endpoint: cfg.RunnerURL, Timeout: cfg.RunTimeout},
		Grader:      evaluation.Config{Endpoint: cfg.GraderURL, Timeout: cfg.EvaluateTimeout},
		TokenState:  &tokenState,
		StatePath:   cfg.TokenStatePath,
		HistoryFile: filepath.Join(filepath.Dir(cfg.TokenStatePath), "cli_history"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init repl failed: %v\n", err)
		return
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	if err := r.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
}
