package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"sparkchat/internal/api"
	"sparkchat/internal/config"
	"sparkchat/internal/coordinator"
	"sparkchat/internal/database"
	"sparkchat/internal/stats"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	_ = godotenv.Load()

	flag.StringVar(&addr, "addr", config.GetEnv("SERVER_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", config.GetEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", config.GetEnv("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[sparkchat] ", log.LstdFlags)

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgSparkChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	var presence *database.PresenceStore
	if cfg.RedisURL != "" {
		presence, err = database.NewPresenceStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis:", err)
		}
		defer presence.Close()
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	cd, err := coordinator.NewCoordinator(logger, dbConn, presence, statsUpdater, coordinator.NewSystemClock(), coordinator.Config{
		TickInterval:    cfg.MatchTickInterval,
		BallotTTL:       cfg.BallotTTL,
		SendQueueSize:   cfg.SendQueueSize,
		SendTimeout:     cfg.SendTimeout,
		MaxContentBytes: cfg.MaxContentBytes,
	})
	if err != nil {
		logger.Fatal("new coordinator:", err)
	}

	srv := api.NewSparkChatApp(mux, logger, cd, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	cd.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down coordinator...")
	if err := cd.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("coordinator shutdown:", err)
	}

	logger.Println("shutdown complete")
}
