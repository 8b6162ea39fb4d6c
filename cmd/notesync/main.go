package main

import (
	"errors"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/notesreview/notesync/internal/config"
	"github.com/notesreview/notesync/internal/database"
	"github.com/notesreview/notesync/internal/logging"
	"github.com/notesreview/notesync/internal/notes"
	"github.com/notesreview/notesync/internal/watermark"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	cfgFile string
)

func main() {
	// A .env next to the binary mirrors how the deployment ships its
	// credentials; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "notesync",
		Short: "Mirror synchronization engine for OpenStreetMap notes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newImportCommand(),
		newUpdateCommand(),
		newReconcileCommand(),
		newServeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("api-url", defaults.GetString("api.url"), "Upstream notes API base URL")
	cmd.PersistentFlags().String("watermark-dir", defaults.GetString("watermark.dir"), "Directory holding the watermark files")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address for the status server")
	cmd.PersistentFlags().Int("batch-size", defaults.GetInt("sync.batch_size"), "Number of notes per write batch")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", defaults.GetString("log.file"), "Rotating log file path (empty logs to stderr)")

	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "api.url", "api-url")
	bindFlag(cmd, "watermark.dir", "watermark-dir")
	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "sync.batch_size", "batch-size")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.file", "log-file")
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

// engineRuntime holds the shared per-run lifecycle: configuration,
// logger, database and watermark handles. Everything is created once per
// invocation and released at the end; nothing is process-global.
type engineRuntime struct {
	cfg        config.AppConfig
	logger     *zap.Logger
	db         *gorm.DB
	store      *notes.Store
	watermarks *watermark.Store
	clock      func() time.Time
}

func newEngineRuntime() (*engineRuntime, func(), error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}

	db, err := database.OpenSQLite(cfg.DatabasePath, logger)
	if err != nil {
		logger.Sync() //nolint:errcheck
		return nil, nil, err
	}

	release := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close() //nolint:errcheck
		}
		logger.Sync() //nolint:errcheck
	}

	store, err := notes.NewStore(notes.StoreConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		release()
		return nil, nil, err
	}

	watermarks, err := watermark.NewStore(cfg.WatermarkDir)
	if err != nil {
		release()
		return nil, nil, err
	}

	runtime := &engineRuntime{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		store:      store,
		watermarks: watermarks,
		clock:      time.Now,
	}
	return runtime, release, nil
}
