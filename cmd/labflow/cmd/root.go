package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jmcleod/labflow/internal/config"
	"github.com/jmcleod/labflow/internal/logging"
	"github.com/jmcleod/labflow/protocol"
	"github.com/jmcleod/labflow/session"
	bboltstorage "github.com/jmcleod/labflow/storage/bbolt"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "labflow",
	Short: "labflow is a command line client for the lab-flow report service",
	Long: `A client for the lab-flow report service: sign in, check which pages a
session may open, and move report files to and from the backend.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
}

// app is the wiring shared by every command: one persisted session over one
// protocol client.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *bboltstorage.Store
	client   *protocol.Client
	sessions *session.Manager
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Logging, cmd.ErrOrStderr())

	if err := os.MkdirAll(cfg.Session.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := bboltstorage.NewStoreFromFile(cfg.SessionDBPath(), nil)
	if errors.Is(err, bboltstorage.ErrInUse) {
		return nil, fmt.Errorf("session database %s is in use (is labflow serve running?): %w", cfg.SessionDBPath(), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session storage: %w", err)
	}

	client := protocol.New(cfg.API.BaseURL,
		protocol.WithTimeout(cfg.API.Timeout),
		protocol.WithSaver(protocol.DirSaver{Dir: cfg.Download.Dir}),
		protocol.WithLogger(logger.With().Str("component", "protocol").Logger()),
	)
	sessions := session.New(client, store,
		session.WithLogger(logger.With().Str("component", "session").Logger()),
		session.WithIdentityTimeout(cfg.Session.IdentityTimeout),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		client:   client,
		sessions: sessions,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
