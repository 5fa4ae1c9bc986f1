package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"usermanagement/internal/api"
	"usermanagement/internal/event"
	"usermanagement/internal/repository"
	"usermanagement/internal/repository/memory"
	"usermanagement/internal/repository/postgres"
	"usermanagement/internal/seed"
	"usermanagement/internal/service"
	"usermanagement/pkg/logger"
)

const (
	storageDriverPostgres = "postgres"
	storageDriverMemory   = "memory"
)

type Config struct {
	App struct {
		Env string `mapstructure:"env"`
	} `mapstructure:"app"`
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Storage struct {
		Driver      string `mapstructure:"driver"`
		SeedDevData bool   `mapstructure:"seed_dev_data"`
	} `mapstructure:"storage"`
	Database struct {
		URL           string        `mapstructure:"url"`
		MaxConns      int           `mapstructure:"max_conns"`
		PingTimeout   time.Duration `mapstructure:"ping_timeout"`
		MigrationsDir string        `mapstructure:"migrations_dir"`
	} `mapstructure:"database"`
	Log struct {
		Level    string `mapstructure:"level"`
		Encoding string `mapstructure:"encoding"`
	} `mapstructure:"log"`
	CORS struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
}

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(runHealthcheck())
		case "migrate":
			if err := runMigrateCommand(); err != nil {
				fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
				os.Exit(1)
			}
			return
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync() //nolint:errcheck

	if !strings.EqualFold(cfg.App.Env, "development") {
		gin.SetMode(gin.ReleaseMode)
	}

	var (
		userRepo  repository.UserRepository
		auditRepo repository.AuditRepository
		ready     func(context.Context) error
	)
	switch cfg.Storage.Driver {
	case storageDriverMemory:
		users := memory.NewUserRepository()
		userRepo = users
		auditRepo = memory.NewAuditRepository(users)
		log.Warn("using in-memory storage; data is lost on exit")
	default:
		dbPool, err := newDBPool(context.Background(), cfg)
		if err != nil {
			log.Fatal("connect database failed", zap.Error(err))
		}
		defer dbPool.Close()

		userRepo = postgres.NewUserRepository(dbPool)
		auditRepo = postgres.NewAuditRepository(dbPool)
		ready = dbPool.Ping
	}

	if cfg.Storage.SeedDevData {
		if _, err := seed.Users(context.Background(), userRepo, time.Now().UTC(), log); err != nil {
			log.Fatal("seed development users failed", zap.Error(err))
		}
	}

	auditSvc, err := service.NewAuditService(auditRepo, log)
	if err != nil {
		log.Fatal("init audit service failed", zap.Error(err))
	}

	eventBus := event.NewBus(log)
	if err := auditSvc.Register(eventBus); err != nil {
		log.Fatal("register audit subscribers failed", zap.Error(err))
	}
	eventBus.Seal()

	userSvc := service.NewUserService(userRepo, eventBus, log)

	router := api.NewRouter(api.RouterOptions{
		Logger:       log,
		AllowOrigins: cfg.CORS.AllowOrigins,
		Ready:        ready,
		ReadyTimeout: cfg.Database.PingTimeout,
	}, userSvc, auditSvc)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	log.Info("server started",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("version", Version),
		zap.String("commit", Commit),
		zap.String("build_time", BuildTime),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		if err != nil {
			log.Fatal("server exited unexpectedly", zap.Error(err))
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown server failed", zap.Error(err))
	}
}

func loadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("USERMGMT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database.url", "USERMGMT_DATABASE_URL", "DATABASE_URL")

	v.SetDefault("app.env", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("storage.driver", storageDriverPostgres)
	v.SetDefault("storage.seed_dev_data", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.ping_timeout", "3s")
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("cors.allow_origins", []string{"http://localhost:5173"})

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) {
			return Config{}, fmt.Errorf("read config file failed: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config failed: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch cfg.Storage.Driver {
	case storageDriverPostgres:
		if cfg.Database.URL == "" {
			return Config{}, errors.New("database.url is required")
		}
		if cfg.Database.MaxConns <= 0 {
			return Config{}, errors.New("database.max_conns must be greater than 0")
		}
	case storageDriverMemory:
	default:
		return Config{}, fmt.Errorf("storage.driver must be %q or %q", storageDriverPostgres, storageDriverMemory)
	}

	if cfg.Database.PingTimeout <= 0 {
		return Config{}, errors.New("database.ping_timeout must be greater than 0")
	}

	for _, origin := range cfg.CORS.AllowOrigins {
		if strings.TrimSpace(origin) == "*" {
			return Config{}, errors.New("cors.allow_origins must not contain wildcard *")
		}
	}

	return cfg, nil
}

func newDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database.url failed: %w", err)
	}

	const maxInt32 = int(^uint32(0) >> 1)
	if cfg.Database.MaxConns > maxInt32 {
		return nil, fmt.Errorf("database.max_conns must be <= %d", maxInt32)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns) // #nosec G115 -- validated upper bound above.

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.PingTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database failed: %w", err)
	}

	return pool, nil
}

func runMigrateCommand() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	if cfg.Storage.Driver != storageDriverPostgres {
		return fmt.Errorf("migrate requires storage.driver %q", storageDriverPostgres)
	}

	migrationDir := strings.TrimSpace(cfg.Database.MigrationsDir)
	if migrationDir == "" {
		migrationDir = "/migrations"
		if _, statErr := os.Stat(migrationDir); statErr != nil {
			migrationDir = "./migrations"
		}
	}

	migrator, err := migrate.New("file://"+migrationDir, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer migrator.Close() //nolint:errcheck

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations failed: %w", err)
	}

	fmt.Println("migrations applied successfully")
	return nil
}

func runHealthcheck() int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	port := strings.TrimSpace(os.Getenv("USERMGMT_SERVER_PORT"))
	if port == "" {
		port = "8080"
	}

	resp, err := client.Get("http://localhost:" + port + "/health/ready")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}
