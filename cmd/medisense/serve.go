package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/hrygo/medisense/ai/tracing"
	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/server"
	"github.com/hrygo/medisense/store"
	"github.com/hrygo/medisense/store/db"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		shutdownTracing, err := setupTracing(ctx, p)
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTracing(context.Background()) }()

		storeInstance, err := openStore(ctx, p)
		if err != nil {
			return err
		}

		a, err := buildApp(ctx, p, storeInstance)
		if err != nil {
			_ = storeInstance.Close()
			return err
		}
		defer a.Close()
		a.warmup(nil)

		s, err := server.NewServer(ctx, p, storeInstance, server.Options{Engine: a.engine, Metrics: a.metrics})
		if err != nil {
			_ = storeInstance.Close()
			return err
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM.
		signal.Notify(c, terminationSignals...)

		if err := s.Start(ctx); err != nil {
			_ = storeInstance.Close()
			return err
		}
		printGreetings(p)

		<-c
		s.Shutdown(context.Background())
		return nil
	},
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		_ = storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

func setupTracing(ctx context.Context, p *profile.Profile) (tracing.ShutdownFunc, error) {
	return tracing.Setup(ctx, tracing.Config{
		Exporter:    p.TraceExporter,
		Endpoint:    p.TraceEndpoint,
		Insecure:    true,
		ServiceName: "medisense",
		Version:     p.Version,
		Writer:      os.Stderr,
	})
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("MediSense %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if p.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
		}
	}
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	if p.Addr == "" {
		fmt.Printf("Server running on port %d\n", p.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", p.Addr, p.Port)
	}
	slog.Info("medisense: ready", "ai_enabled", p.IsAIEnabled())
}
