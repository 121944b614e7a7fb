package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/casegallery/gallerysync/internal/engine"
	"github.com/casegallery/gallerysync/internal/gallery"
	"github.com/casegallery/gallerysync/internal/registry"
	"github.com/casegallery/gallerysync/internal/wp"
)

type tenantConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIToken   string `mapstructure:"api_token"`
	PropertyID int64  `mapstructure:"property_id"`
}

type wordpressConfig struct {
	URL               string `mapstructure:"url"`
	Username          string `mapstructure:"username"`
	AppPassword       string `mapstructure:"app_password"`
	CasePostType      string `mapstructure:"case_post_type"`
	DoctorPostType    string `mapstructure:"doctor_post_type"`
	ProcedureTaxonomy string `mapstructure:"procedure_taxonomy"`
}

type syncConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Jitter       time.Duration `mapstructure:"jitter"`
	OrphanPolicy string        `mapstructure:"orphan_policy"`
	OnStart      bool          `mapstructure:"on_start"`
}

type httpConfig struct {
	Addr      string `mapstructure:"addr"`
	AuthToken string `mapstructure:"auth_token"`
}

type logConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type appConfig struct {
	DBPath         string          `mapstructure:"db_path"`
	CheckpointPath string          `mapstructure:"checkpoint_path"`
	AuditPath      string          `mapstructure:"audit_path"`
	SpoolDir       string          `mapstructure:"spool_dir"`
	WordPress      wordpressConfig `mapstructure:"wordpress"`
	Tenants        []tenantConfig  `mapstructure:"tenants"`
	Sync           syncConfig      `mapstructure:"sync"`
	HTTP           httpConfig      `mapstructure:"http"`
	Log            logConfig       `mapstructure:"log"`
}

var (
	configFile string
	cfg        appConfig
)

// loadConfig resolves configuration from gallerysync.yaml, GSYNC_*
// environment variables and built-in defaults, in that order of
// precedence. A missing config file is fine; a config file named with
// --config that cannot be read is not.
func loadConfig() error {
	viper.SetConfigName("gallerysync")
	viper.SetConfigType("yaml")
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "gallerysync"))
		}
	}

	viper.SetEnvPrefix("GSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("db_path", filepath.Join(".gallerysync", "registry.db"))
	viper.SetDefault("checkpoint_path", filepath.Join(".gallerysync", "checkpoint.yaml"))
	viper.SetDefault("audit_path", filepath.Join(".gallerysync", "audit.jsonl"))
	viper.SetDefault("spool_dir", filepath.Join(".gallerysync", "spool"))
	viper.SetDefault("wordpress.case_post_type", "gallery_case")
	viper.SetDefault("wordpress.doctor_post_type", "gallery_doctor")
	viper.SetDefault("wordpress.procedure_taxonomy", "gallery_procedure")
	viper.SetDefault("sync.interval", time.Hour)
	viper.SetDefault("sync.jitter", 5*time.Minute)
	viper.SetDefault("sync.orphan_policy", "keep")
	viper.SetDefault("sync.on_start", true)
	viper.SetDefault("http.addr", "127.0.0.1:8377")
	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// newLogger builds the process logger. With log.file configured the
// output rotates through lumberjack; otherwise it goes to stderr.
func newLogger(prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.Log.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}

// openRegistry opens the registry database and brings its schema up to
// date, replaying migrations for databases written by older releases.
func openRegistry(logger *log.Logger) (*registry.DB, error) {
	db, err := registry.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry at %s: %w", cfg.DBPath, err)
	}
	mgr := registry.NewSchemaManager(db, nil, logger)
	if err := mgr.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}
	return db, nil
}

// buildEngine wires the sync engine from configuration. policyOverride
// replaces sync.orphan_policy when non-empty.
func buildEngine(db *registry.DB, logger *log.Logger, policyOverride engine.OrphanPolicy) (*engine.Engine, *registry.LogStore, *registry.ItemStore, error) {
	if cfg.WordPress.URL == "" {
		return nil, nil, nil, fmt.Errorf("wordpress.url is not configured; run 'gsync init' and edit the config")
	}
	if len(cfg.Tenants) == 0 {
		return nil, nil, nil, fmt.Errorf("no gallery tenants configured")
	}

	logs := registry.NewLogStore(db, logger)
	items := registry.NewItemStore(db, logger)

	site, err := wp.NewClient(wp.Config{
		BaseURL:     cfg.WordPress.URL,
		Username:    cfg.WordPress.Username,
		AppPassword: cfg.WordPress.AppPassword,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to build wordpress client: %w", err)
	}

	tenants := make([]*gallery.Client, 0, len(cfg.Tenants))
	for i, tc := range cfg.Tenants {
		gc, err := gallery.NewClient(gallery.Config{
			BaseURL:    tc.BaseURL,
			APIToken:   tc.APIToken,
			PropertyID: tc.PropertyID,
		}, logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("tenant %d: %w", i+1, err)
		}
		tenants = append(tenants, gc)
	}

	var audit *engine.AuditLog
	if cfg.AuditPath != "" {
		audit, err = engine.NewAuditLog(cfg.AuditPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	policy := policyOverride
	if policy == "" {
		policy = engine.OrphanPolicy(cfg.Sync.OrphanPolicy)
	}

	eng, err := engine.New(engine.Config{
		CasePostType:      cfg.WordPress.CasePostType,
		DoctorPostType:    cfg.WordPress.DoctorPostType,
		ProcedureTaxonomy: cfg.WordPress.ProcedureTaxonomy,
		OrphanPolicy:      policy,
		CheckpointPath:    cfg.CheckpointPath,
	}, logs, items, site, tenants, audit, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return eng, logs, items, nil
}
