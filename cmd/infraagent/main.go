// Command infraagent runs the conversational deployment service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"infraagent/pkg/api"
	"infraagent/pkg/config"
	"infraagent/pkg/dispatch"
	"infraagent/pkg/engine"
	"infraagent/pkg/extract"
	"infraagent/pkg/github"
	"infraagent/pkg/logx"
	"infraagent/pkg/persistence"
	"infraagent/pkg/resolver"
	"infraagent/pkg/session"
	"infraagent/pkg/tracker"
)

func main() {
	configPath := flag.String("config", "infraagent.yaml", "Path to the YAML config file")
	secretsPath := flag.String("secrets", "", "Path to the encrypted secrets file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debug {
		logx.SetDebug(true)
	}

	if err := run(*configPath, *secretsPath); err != nil {
		fmt.Fprintf(os.Stderr, "infraagent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, secretsPath string) error {
	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if secretsPath != "" {
		password := os.Getenv("INFRAAGENT_SECRETS_PASSWORD")
		if password == "" {
			return fmt.Errorf("secrets file given but INFRAAGENT_SECRETS_PASSWORD is not set")
		}
		if err := config.LoadSecretsFile(secretsPath, password); err != nil {
			return fmt.Errorf("failed to load secrets: %w", err)
		}
	}

	if err := persistence.Initialize(cfg.Database.Path); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := persistence.Close(); err != nil {
			logger.Error("Database close failed: %v", err)
		}
	}()

	tr := tracker.New(persistence.Ops())

	webhooks := github.NewWebhookClient(
		config.GetSecretOrDefault(config.SecretGitHubToken, ""),
		config.GetSecretOrDefault(config.SecretWebhookSecret, config.DefaultWebhookSecret),
		cfg.Webhook.CallbackURL,
	)

	eng := engine.NewSimulated(tr, cfg.Engine, webhooks)
	dispatcher := dispatch.New(tr, eng)
	sessions := session.NewStore(cfg.Session.TTL)
	res := resolver.New(extract.NewFromConfig(cfg), sessions, dispatcher)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions.StartSweeper(ctx, cfg.Session.SweepInterval)

	logger.Info("Starting infraagent (extraction provider: %s)", cfg.Extraction.Provider)
	server := api.NewServer(res, tr, sessions, cfg)
	if err := server.StartServer(ctx, cfg.Server.ListenAddr, cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutdown complete")
	return nil
}
