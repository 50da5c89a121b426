package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hrygo/medisense/ai/agents/orchestrator"
	"github.com/hrygo/medisense/ai/workflow"
)

type askOptions struct {
	callerID    string
	contextFile string
	useStore    bool
	verbose     bool
	showMetrics bool
}

var askOpts askOptions

var askCmd = &cobra.Command{
	Use:   `ask "<message>"`,
	Short: "Run one message through the engine and print the result as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		shutdownTracing, err := setupTracing(ctx, p)
		if err != nil {
			return err
		}
		defer func() { _ = shutdownTracing(ctx) }()

		req := &workflow.Request{
			Message:  strings.Join(args, " "),
			CallerID: askOpts.callerID,
		}
		if askOpts.contextFile != "" {
			if req.Context, err = loadCallerContext(askOpts.contextFile); err != nil {
				return err
			}
		}

		var fetcher orchestrator.ContextFetcher
		if askOpts.useStore {
			storeInstance, err := openStore(ctx, p)
			if err != nil {
				return err
			}
			defer storeInstance.Close()
			fetcher = storeInstance
		}

		a, err := buildApp(ctx, p, fetcher)
		if err != nil {
			return err
		}
		defer a.Close()

		var callback orchestrator.EventCallback
		if askOpts.verbose {
			callback = func(eventType, eventData string) {
				fmt.Fprintf(os.Stderr, "%s %s\n", eventType, eventData)
			}
		}
		result, err := a.engine.RunWithEvents(ctx, req, callback)
		if err != nil {
			return err
		}

		if err := writeResult(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if askOpts.showMetrics {
			text, err := a.metrics.ExportText()
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, text)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askOpts.callerID, "caller-id", "cli", "caller id for the run")
	askCmd.Flags().StringVar(&askOpts.contextFile, "context", "", "YAML or JSON file with the caller context")
	askCmd.Flags().BoolVar(&askOpts.useStore, "store", false, "load stored caller context from the database")
	askCmd.Flags().BoolVarP(&askOpts.verbose, "verbose", "v", false, "print node events to stderr")
	askCmd.Flags().BoolVar(&askOpts.showMetrics, "metrics", false, "print collected metrics to stderr")
}

type askOutput struct {
	Response string         `json:"response"`
	Intent   string         `json:"intent"`
	Path     []string       `json:"path"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func writeResult(w io.Writer, result *workflow.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(askOutput{
		Response: result.FinalResponse,
		Intent:   result.Intent,
		Path:     result.Path,
		Metadata: result.Metadata,
	})
}

// loadCallerContext reads a caller context file. YAML keys follow the JSON field names.
func loadCallerContext(path string) (workflow.CallerContext, error) {
	var cc workflow.CallerContext
	data, err := os.ReadFile(path)
	if err != nil {
		return cc, fmt.Errorf("failed to read context file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cc, fmt.Errorf("failed to parse context file: %w", err)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return cc, fmt.Errorf("failed to parse context file: %w", err)
	}
	if err := json.Unmarshal(encoded, &cc); err != nil {
		return cc, fmt.Errorf("failed to parse context file: %w", err)
	}
	return cc, nil
}
