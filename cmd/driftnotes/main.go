package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/cache"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/config"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/connectivity"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/logging"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/remote"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/server"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "driftnotes",
		Short: "Offline-first note synchronization daemon",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "Local HTTP listen address")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Remote notes backend base URL")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite cache database path")
	cmd.PersistentFlags().Duration("probe-interval", defaults.GetDuration("probe.interval"), "Connectivity probe interval")
	cmd.PersistentFlags().Duration("sync-interval", defaults.GetDuration("sync.interval"), "Periodic sync interval")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "probe.interval", "probe-interval")
	bindFlag(cmd, "sync.interval", "sync-interval")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runDaemon(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	localCache, err := cache.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}

	repository, err := remote.NewHTTPRepository(remote.HTTPRepositoryConfig{
		BaseURL: appConfig.RemoteBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	monitor := connectivity.NewMonitor(connectivity.MonitorConfig{
		Prober:        repository,
		ProbeTimeout:  appConfig.ProbeTimeout,
		ProbeInterval: appConfig.ProbeInterval,
		DebounceDelay: appConfig.DebounceDelay,
		Logger:        logger,
	})

	notesStore, err := store.New(store.Config{
		Repository:       repository,
		Cache:            localCache,
		Monitor:          monitor,
		IDProvider:       notes.NewUUIDProvider(),
		Logger:           logger,
		RetryBaseDelay:   appConfig.RetryBaseDelay,
		RetryMaxAttempts: appConfig.RetryMaxAttempts,
		SyncInterval:     appConfig.SyncInterval,
	})
	if err != nil {
		return err
	}
	notesStore.Load()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:  notesStore,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notesStore.Start(signalCtx)
	defer notesStore.Close()

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
