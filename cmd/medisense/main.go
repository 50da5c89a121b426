package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/medisense/ai/observability/logging"
	"github.com/hrygo/medisense/internal/profile"
	"github.com/hrygo/medisense/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "medisense",
	Short:   `A medical conversational assistant. Routes each question to a specialised handler backed by public drug, literature and nutrition data.`,
	Version: version.String(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return logging.Setup(viper.GetString("log-level"), viper.GetString("log-format"))
	},
	SilenceUsage: true,
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 28090, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver (sqlite, postgres)")
	flags.String("dsn", "", "database source name(aka. DSN)")
	flags.String("routes", "", "YAML route table overriding the built-in intent routes")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", logging.FormatText, "log format (text, json)")
	flags.String("trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	flags.String("trace-endpoint", "", "OTLP gRPC endpoint, e.g. localhost:4317")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "routes", "log-level", "log-format", "trace-exporter", "trace-endpoint"} {
		if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("medisense")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, askCmd)
}

// loadProfile builds the profile from flags, MEDISENSE_* variables and defaults.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:          viper.GetString("mode"),
		Addr:          viper.GetString("addr"),
		Port:          viper.GetInt("port"),
		Data:          viper.GetString("data"),
		Driver:        viper.GetString("driver"),
		DSN:           viper.GetString("dsn"),
		RoutesFile:    viper.GetString("routes"),
		LogLevel:      viper.GetString("log-level"),
		LogFormat:     viper.GetString("log-format"),
		TraceExporter: viper.GetString("trace-exporter"),
		TraceEndpoint: viper.GetString("trace-endpoint"),
		Version:       version.String(),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
