package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/rewards/internal/cache/rediscache"
	"github.com/MarkoPoloResearchLab/rewards/internal/httpapi"
	"github.com/MarkoPoloResearchLab/rewards/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/rewards/pkg/engine"
	"github.com/MarkoPoloResearchLab/rewards/pkg/wallet"
)

const (
	flagListenAddr     = "listen-addr"
	flagDatabaseURL    = "database-url"
	flagRedisAddr      = "redis-addr"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagTimezone       = "timezone"

	configKeyListenAddr     = "listen_addr"
	configKeyDatabaseURL    = "database_url"
	configKeyRedisAddr      = "redis_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyJWTSigningKey  = "jwt_signing_key"
	configKeyJWTIssuer      = "jwt_issuer"
	configKeyJWTCookieName  = "jwt_cookie_name"
	configKeyTimezone       = "timezone"

	defaultListenAddr  = ":9090"
	defaultDatabaseURL = "sqlite:///tmp/rewards.db"
)

type runtimeConfig struct {
	ListenAddr     string
	DatabaseURL    string
	RedisAddr      string
	AllowedOrigins string
	JWTSigningKey  string
	JWTIssuer      string
	JWTCookieName  string
	Timezone       string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rewardd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "rewardd",
		Short:         "Virtual-economy rewards API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for the read-view cache (empty disables caching)")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "Session JWT signing key")
	cmd.Flags().String(flagJWTIssuer, "", "Session JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "Session cookie name")
	cmd.Flags().String(flagTimezone, "", "IANA timezone for sign-in day boundaries (default UTC)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyListenAddr:     flagListenAddr,
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyRedisAddr:      flagRedisAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyJWTSigningKey:  flagJWTSigningKey,
		configKeyJWTIssuer:      flagJWTIssuer,
		configKeyJWTCookieName:  flagJWTCookieName,
		configKeyTimezone:       flagTimezone,
	}
	for configKey, flagName := range bindings {
		if err := viper.BindEnv(configKey, strings.ToUpper(configKey)); err != nil {
			return err
		}
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.RedisAddr = viper.GetString(configKeyRedisAddr)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	cfg.JWTIssuer = viper.GetString(configKeyJWTIssuer)
	cfg.JWTCookieName = viper.GetString(configKeyJWTCookieName)
	cfg.Timezone = viper.GetString(configKeyTimezone)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if driver == "sqlite" {
		if err := gormstore.Migrate(gormDB); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	store := gormstore.New(gormDB)
	clock := func() time.Time { return time.Now().UTC() }

	options := []engine.Option{
		engine.WithWalletLogger(&zapOperationLogger{logger: logger}),
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		options = append(options, engine.WithCache(rediscache.New(redisClient)))
	}
	if cfg.Timezone != "" {
		location, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		options = append(options, engine.WithLocation(location))
	}

	dispatcher, err := engine.New(store, clock, options...)
	if err != nil {
		return fmt.Errorf("dispatcher init: %w", err)
	}

	server, err := httpapi.New(httpapi.Config{
		ListenAddr:        cfg.ListenAddr,
		AllowedOrigins:    httpapi.ParseAllowedOrigins(cfg.AllowedOrigins),
		SessionSigningKey: cfg.JWTSigningKey,
		SessionIssuer:     cfg.JWTIssuer,
		SessionCookieName: cfg.JWTCookieName,
	}, dispatcher, store, logger)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}
	return server.Run(ctx)
}

// zapOperationLogger forwards wallet operation callbacks to zap.
type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(ctx context.Context, entry wallet.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("user_id", entry.UserID.String()),
		zap.String("event_id", entry.EventID.String()),
		zap.Int64("amount", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("wallet operation failed", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("wallet operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "rewards.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
