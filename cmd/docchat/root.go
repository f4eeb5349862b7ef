package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/logging"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded once per invocation by the root pre-run hook.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with your PDF documents",
	Long: `docchat indexes PDF documents into a vector store and answers questions
about them, streaming the answer together with the passages it used.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}

	if errs := loaded.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return errors.New("invalid configuration:\n  " + strings.Join(msgs, "\n  "))
	}

	logging.Init(logging.Config{
		Level:  loaded.Log.Level,
		Format: loaded.Log.Format,
		Output: cmd.ErrOrStderr(),
	})
	cfg = loaded
	return nil
}

// userFlag registers the owner flag shared by commands that act for a user.
func userFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "user", "u", "local", "owner of documents and sessions")
}
