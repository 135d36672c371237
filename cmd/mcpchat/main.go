package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpchat/config"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpchat", "cmd")

// flags shared by the commands
type flags struct {
	configFile string
	envFile    string
	docsURL    string
	runner     string
	verbose    bool
	plain      bool
}

func newRootCmd() *cobra.Command {
	f := new(flags)

	root := &cobra.Command{
		Use:   "mcpchat [flags] [server-script...]",
		Short: "Chat with a model that can use the tools of MCP servers",
		Long: `mcpchat is an interactive chat client for MCP servers.

The documentation server is always connected: either the built-in one,
or the one at --url. Each server script is run with --runner and its
tools are offered to the model as well.

In the chat:
  @<doc_id>            includes the document in the question
  /<prompt> <doc_id>   runs the prompt of the documentation server
  /help /docs /tools   lists the prompts, documents and tools
  /clear               starts a new conversation
  exit                 quits`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnv(f.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, f, args)
			if err != nil {
				logger.KV(xlog.ERROR, "status", "startup_failed", "err", err.Error())
				return err
			}
			defer a.Close()

			if err = a.withModel(cfg); err != nil {
				return err
			}
			return a.repl(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVarP(&f.configFile, "config", "c", "", "config file")
	root.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "file with environment variables")
	root.PersistentFlags().StringVar(&f.docsURL, "url", "", "SSE URL of the documentation server, the built-in server is used if not set")
	root.PersistentFlags().StringVar(&f.runner, "runner", config.DefaultRunner, "command to run server scripts")
	root.PersistentFlags().BoolVarP(&f.verbose, "verbose", "v", false, "print the turn events and debug logs")
	root.Flags().BoolVar(&f.plain, "plain", false, "print answers without markdown rendering")

	root.AddCommand(
		newDocsServerCmd(f),
		newToolsCmd(f),
		newConfigCmd(f),
	)
	return root
}

// loadEnv loads the environment file, a missing default file is ignored
func loadEnv(file string) error {
	if file == "" {
		return nil
	}
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "failed to load %s", file)
	}
	return nil
}

func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return nil, err
	}
	if f.docsURL != "" {
		cfg.Docs.URL = f.docsURL
	}
	setupLogging(cfg.LogLevel, f.verbose)
	return cfg, nil
}

// setupLogging writes logs to stderr, stdout is reserved for answers
// or the protocol of the documentation server
func setupLogging(level string, verbose bool) {
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if verbose {
		level = "DEBUG"
	}
	xlog.SetGlobalLogLevel(logLevel(level))
}

func logLevel(level string) xlog.LogLevel {
	switch strings.ToUpper(level) {
	case "TRACE":
		return xlog.TRACE
	case "DEBUG":
		return xlog.DEBUG
	case "INFO":
		return xlog.INFO
	case "NOTICE":
		return xlog.NOTICE
	case "ERROR":
		return xlog.ERROR
	case "CRITICAL":
		return xlog.CRITICAL
	}
	return xlog.WARNING
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
