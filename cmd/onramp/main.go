package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vitwit/onramp"
	"github.com/vitwit/onramp/config"
	"github.com/vitwit/onramp/logger"
	"github.com/vitwit/onramp/types"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "onramp",
		Short:         "Fiat-to-token settlement service",
		Version:       onramp.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(recordsCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(signCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (types.Config, error) {
	return config.Load(configPath)
}

// newApp builds the facade for a command. The returned cleanup closes it and
// flushes the logger.
func newApp(cfg types.Config) (*onramp.Onramp, func(), error) {
	log := logger.NewZapLogger(cfg.Log.Level)
	app, err := onramp.New(cfg, onramp.WithLogger(log))
	if err != nil {
		logger.Sync(log)
		return nil, nil, err
	}
	return app, func() {
		if err := app.Close(); err != nil {
			log.Warn("close failed", map[string]any{"error": err})
		}
		logger.Sync(log)
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
