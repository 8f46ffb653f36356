package cmd

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/theirongolddev/claude-usage-tracker/internal/config"
	"github.com/theirongolddev/claude-usage-tracker/internal/credentials"
	"github.com/theirongolddev/claude-usage-tracker/internal/history"
	"github.com/theirongolddev/claude-usage-tracker/internal/logger"
	"github.com/theirongolddev/claude-usage-tracker/internal/pipeline"
	"github.com/theirongolddev/claude-usage-tracker/internal/usage"
)

// app is the configuration and logger shared by every command.
type app struct {
	cfg config.Config
	log *zap.Logger
}

// loadApp reads the config and builds the logger. A broken config file is
// reported on stderr and replaced by defaults so a snapshot is still produced.
func loadApp() (*app, error) {
	path := configPath()
	var (
		cfg    config.Config
		cfgErr error
	)
	if flagConfig == "" {
		cfg, cfgErr = config.Load()
	} else {
		cfg, cfgErr = config.LoadFrom(flagConfig)
	}
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	level := cfg.Log.Level
	if flagVerbose {
		level = "debug"
	}
	log, err := logger.New(level)
	if err != nil {
		log, _ = logger.New(logger.DefaultLevel)
		log.Warn("ignoring log level", zap.Error(err))
	}
	if cfgErr != nil {
		log.Warn("using default configuration", zap.String("path", path), zap.Error(cfgErr))
	}

	if flagCredentialSource != "" {
		src, err := config.NormalizeSource(flagCredentialSource)
		if err != nil {
			return nil, err
		}
		cfg.Credentials.Source = src
	}

	return &app{cfg: cfg, log: log}, nil
}

// configPath returns the --config file or the default location.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.ConfigPath()
}

// configExists reports whether the active config file is on disk.
func configExists() bool {
	if flagConfig == "" {
		return config.Exists()
	}
	_, err := os.Stat(flagConfig)
	return err == nil
}

// saveConfig writes cfg to the active config file.
func saveConfig(cfg config.Config) error {
	if flagConfig == "" {
		return config.Save(cfg)
	}
	return config.SaveTo(flagConfig, cfg)
}

func (a *app) close() {
	_ = a.log.Sync()
}

// backends returns the credential backends for the configured source, in the
// order they are consulted.
func (a *app) backends() ([]credentials.Backend, error) {
	src, err := a.cfg.CredentialSource()
	if err != nil {
		return nil, err
	}

	file := &credentials.FileBackend{Path: a.cfg.CredentialsPath()}
	keyring := &credentials.KeyringBackend{
		Service: a.cfg.Credentials.KeyringService,
		User:    a.cfg.Credentials.KeyringUser,
	}
	var bridge *credentials.BridgeBackend
	if argv := a.cfg.BridgeArgv(); len(argv) > 0 {
		bridge = &credentials.BridgeBackend{Command: argv}
	}

	switch src {
	case config.SourceFile:
		return []credentials.Backend{file}, nil
	case config.SourceKeyring:
		return []credentials.Backend{keyring}, nil
	case config.SourceBridge:
		if bridge == nil {
			return nil, fmt.Errorf("credential source %q needs credentials.bridge_command", src)
		}
		return []credentials.Backend{bridge}, nil
	default:
		out := []credentials.Backend{file}
		if bridge != nil {
			out = append(out, bridge)
		}
		return append(out, keyring), nil
	}
}

func (a *app) credentialStore() (*credentials.Store, error) {
	backends, err := a.backends()
	if err != nil {
		return nil, err
	}
	return credentials.NewStore(credentials.Config{
		ClientID: a.cfg.Credentials.ClientID,
		TokenURL: a.cfg.Credentials.TokenURL,
		Logger:   a.log.Named("credentials"),
	}, backends...), nil
}

func (a *app) tracker() *history.Tracker {
	return history.NewTracker(a.cfg.HistoryPath(), a.cfg.HistoryDays())
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	creds, err := a.credentialStore()
	if err != nil {
		return nil, err
	}
	return &pipeline.Pipeline{
		Client: usage.NewClient(usage.Config{
			URL:     a.cfg.API.UsageURL,
			Timeout: a.cfg.Timeout(),
			Logger:  a.log.Named("usage"),
		}),
		Credentials: creds,
		History:     a.tracker(),
		CachePath:   a.cfg.CachePath(),
		SamplesPath: a.cfg.SamplesPath(),
		Log:         a.log.Named("pipeline"),
	}, nil
}
