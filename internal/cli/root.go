// Package cli is the command line of the terminal learning agent
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"learning-agent/internal/auth"
	"learning-agent/internal/backend"
	"learning-agent/internal/config"
	"learning-agent/internal/logger"
	"learning-agent/internal/workflow"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// BackendFactory builds the backend client for a loaded configuration
type BackendFactory func(cfg *config.ClientConfig) (workflow.Backend, error)

type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.ClientConfig
	logCloser  io.Closer
	newBackend BackendFactory
}

// Execute runs the agent command line against the HTTP backend
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, httpBackend, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, newBackend BackendFactory, args []string, stdout, stderr io.Writer) error {
	a := &app{v: config.NewClientViper(), newBackend: newBackend}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	// post-run hooks are skipped on failure, so the log file is closed here
	return errors.Join(err, a.closeLog())
}

func (a *app) rootCommand() *cobra.Command {

	root := &cobra.Command{
		Use:           "agent",
		Short:         "Learning-focused prompt enhancer for your terminal",
		Long:          "agent rewrites your questions into better learning prompts, lets you pick the version to send, and keeps the conversations locally.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: agent.yaml in the working or data directory)")
	flags.String(flagName(config.KeyBackendURL), "", "backend base URL")
	flags.String(flagName(config.KeySharedSecret), "", "shared secret used to sign backend requests")
	flags.String(flagName(config.KeyStorePath), "", "conversation database file")
	flags.Duration(flagName(config.KeyRequestTimeout), 0, "timeout of a single backend call")
	flags.String(flagName(config.KeyLogFile), "", "log file")
	flags.String(flagName(config.KeyLogLevel), "", "log level: debug, info, warn or error")
	for _, key := range []string{
		config.KeyBackendURL,
		config.KeySharedSecret,
		config.KeyStorePath,
		config.KeyRequestTimeout,
		config.KeyLogFile,
		config.KeyLogLevel,
	} {
		// BindPFlag only fails for a nil flag
		_ = a.v.BindPFlag(key, flags.Lookup(flagName(key)))
	}

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newConversationsCommand(a),
	)
	return root
}

// load reads the configuration and sends logs to the log file so they never mix with
// terminal output
func (a *app) load() error {
	cfg, err := config.LoadClientConfig(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger.SetLevel(cfg.LogLevel)
	closer, err := logger.ToFile(cfg.LogFile)
	if err != nil {
		return fmt.Errorf("error setting up logging: %w", err)
	}
	a.logCloser = closer
	return nil
}

func (a *app) closeLog() error {
	if a.logCloser == nil {
		return nil
	}
	err := a.logCloser.Close()
	a.logCloser = nil
	return err
}

func httpBackend(cfg *config.ClientConfig) (workflow.Backend, error) {
	authenticator, err := auth.NewAuthenticator(cfg.SharedSecret, 0)
	if err != nil {
		return nil, fmt.Errorf("error configuring authentication: %w", err)
	}
	return backend.NewClient(backend.Config{
		BaseURL:       cfg.BackendURL,
		Timeout:       cfg.RequestTimeout,
		Authenticator: authenticator,
		ClientName:    "agent-cli",
	}), nil
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
