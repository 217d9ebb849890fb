package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mamasecure/scanstore/pkg/classify"
	"github.com/mamasecure/scanstore/pkg/config"
	"github.com/mamasecure/scanstore/pkg/identity"
	"github.com/mamasecure/scanstore/pkg/session"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile string
	userFlag   string
	envFile    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "scanstore",
		Short:        "Scan session store for MamaSecure",
		Version:      Version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "YAML configuration file")
	root.PersistentFlags().StringVar(&userFlag, "user", "", "user identifier (empty for the guest namespace)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")

	root.AddCommand(
		newServeCmd(),
		newShellCmd(),
		newScanCmd(),
		newSessionsCmd(),
		newResetCmd(),
	)
	return root
}

// loadConfig reads the dotenv file and configuration, then applies flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	config.LoadDotEnv(envFile)

	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.FromEnv()
	}

	if cmd.Flags().Changed("user") {
		cfg.User = userFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// services holds what every command needs to reach a namespace.
type services struct {
	cfg        *config.Config
	backend    session.Backend
	manager    *session.Manager
	classifier classify.Classifier
}

func openServices(ctx context.Context, cfg *config.Config) (*services, error) {
	backend, err := session.NewBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}

	classifier, err := classify.New(ctx, cfg.Classifier)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("create %s classifier: %w", cfg.Classifier.Kind, err)
	}

	return &services{
		cfg:        cfg,
		backend:    backend,
		manager:    session.NewManager(backend),
		classifier: classifier,
	}, nil
}

func (s *services) namespace() string {
	return identity.Namespace(s.cfg.User)
}

// open returns the store for the configured user. Persistence warnings are
// logged, corrupt data is reported with a hint.
func (s *services) open(ctx context.Context) (*session.Store, error) {
	st, err := s.manager.Open(ctx, s.namespace())
	switch {
	case err == nil:
		return st, nil
	case session.IsWarning(err):
		log.Printf("WARNING: %v", err)
		return st, nil
	case session.IsCorrupt(err):
		return nil, fmt.Errorf("%w (run 'scanstore reset' to start over)", err)
	default:
		return nil, err
	}
}

func (s *services) Close() {
	if err := s.manager.Close(); err != nil {
		log.Printf("Storage close error: %v", err)
	}
}
