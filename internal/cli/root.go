// Package cli implements the watchpost CLI commands.
package cli

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/config"
	"github.com/rcliao/watchpost/internal/logging"
	"github.com/rcliao/watchpost/internal/store"
)

var (
	dbPath     string
	configPath string
	logLevel   string
	formatFlag string

	cfg *config.Config
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "watchpost",
	Short: "Multi-modal person identification for home cameras",
	Long: "Identifies people in camera frames by face, then body re-id, then gait, " +
		"and passively enrolls new samples of known users. SQLite-backed, single binary.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			c.Database.Path = dbPath
		}
		if logLevel != "" {
			c.Logging.Level = logLevel
		}
		logging.Init(logging.Config{
			Level:  c.Logging.Level,
			Format: c.Logging.Format,
			Caller: c.Logging.Caller,
		})
		cfg = c
		return nil
	},
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $WATCHPOST_DB or data/watchpost.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $WATCHPOST_CONFIG or ./watchpost.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getConfig() *config.Config {
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg
}

func getDBPath() string {
	return getConfig().Database.Path
}

func openStore() (*store.SQLiteStore, error) {
	c := getConfig()
	s, err := store.NewSQLiteStoreWithLogger(c.Database.Path, logging.Component("store"))
	if err != nil {
		return nil, err
	}
	s.SetEmbeddingCaps(c.ReID.MaxEmbeddings, c.Gait.MaxEmbeddings)
	return s, nil
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
