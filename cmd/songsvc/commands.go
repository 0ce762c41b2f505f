package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/iliyamo/song-service/internal/config"
	"github.com/iliyamo/song-service/internal/database"
	"github.com/iliyamo/song-service/internal/handler"
	"github.com/iliyamo/song-service/internal/middleware"
	"github.com/iliyamo/song-service/internal/queue"
	"github.com/iliyamo/song-service/internal/repository"
	"github.com/iliyamo/song-service/internal/router"
	"github.com/iliyamo/song-service/internal/seed"
	"github.com/iliyamo/song-service/internal/service"
	"github.com/iliyamo/song-service/internal/utils"
)

// newLogger builds the process logger with timestamps at the named level.
func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// openStore loads the configuration and connects to MongoDB.  A missing
// store address is fatal.
func openStore(ctx context.Context) (config.Config, *log.Logger, *mongo.Client, *repository.SongRepo, error) {
	cfg, err := config.Load()
	logger := newLogger(cfg.LogLevel)
	if err != nil {
		return cfg, logger, nil, nil, err
	}
	logger.Info("connecting to mongodb", "uri", cfg.Redacted())
	client, err := database.Open(ctx, cfg.MongoURI())
	if err != nil {
		return cfg, logger, nil, nil, err
	}
	repo := repository.NewSongRepo(client.Database(cfg.MongoDatabase).Collection(cfg.MongoCollection))
	return cfg, logger, client, repo, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "seed",
				Usage: "Drop the collection and load the seed dataset before serving (same as SEED_ON_START=true)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, cmd.Bool("seed"))
		},
	}
}

func serve(ctx context.Context, forceSeed bool) error {
	cfg, logger, client, repo, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		logger.Warn("redis unavailable; response cache off, rate limiting in-process")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	if cfg.SeedOnStart || forceSeed {
		if err := reseed(ctx, repo, rdb, cfg.SeedFile, logger); err != nil {
			return err
		}
	} else if err := repo.EnsureIndexes(ctx); err != nil {
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stop()
		wg.Wait()
	}()

	var pub handler.EventPublisher
	if cfg.RabbitURL != "" {
		p := service.NewPublisher(cfg.RabbitURL)
		defer func() { _ = p.Close() }()
		pub = p
		if cfg.SongEventsConsumer {
			consumer := &queue.Consumer{URL: cfg.RabbitURL, LogPath: "logs/songs.log", Logger: logger.WithPrefix("consumer")}
			runBackground(ctx, &wg, logger, "song consumer", consumer.Run)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			logger.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID)
			return nil
		},
	}))
	e.Use(echomw.Recover())
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	e.Use(middleware.NewRedisCache(config.LoadCacheConfig(), rdb))

	songs := handler.NewSongHandler(repo, pub, logger.WithPrefix("songs"))
	router.RegisterRoutes(e, songs, middleware.JWTAuth(cfg.JWTSecret))

	addr := ":" + cfg.Port
	logger.Info("listening", "addr", addr, "env", cfg.Env)

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// runBackground runs fn on its own goroutine tracked by wg.  Errors other
// than cancellation are logged.
func runBackground(ctx context.Context, wg *sync.WaitGroup, logger *log.Logger, name string, fn func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("background task stopped", "task", name, "err", err)
		}
	}()
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Drop the songs collection and load the seed dataset",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "file",
				Usage: "Seed dataset path; defaults to SEED_FILE or the bundled dataset",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, client, repo, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			rdb := config.NewRedisClient(ctx)
			if rdb != nil {
				defer func() { _ = rdb.Close() }()
			}

			path := cfg.SeedFile
			if f := cmd.String("file"); f != "" {
				path = f
			}
			return reseed(ctx, repo, rdb, path, logger)
		},
	}
}

// reseed replaces the collection with the dataset at path and drops the
// cached responses that described the old contents.  rdb may be nil.
func reseed(ctx context.Context, repo seed.Resetter, rdb *redis.Client, path string, logger *log.Logger) error {
	if _, err := seed.Apply(ctx, repo, path, logger); err != nil {
		return err
	}
	if err := middleware.ClearCache(ctx, rdb, config.LoadCacheConfig().Prefix); err != nil {
		return fmt.Errorf("clearing response cache: %w", err)
	}
	return nil
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Issue a bearer token for the write routes signed with JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Value: "songsvc-cli", Usage: "Token subject"},
			&cli.DurationFlag{Name: "ttl", Value: time.Hour, Usage: "Token lifetime"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			_ = godotenv.Load()
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := utils.NewWriteToken(secret, cmd.String("subject"), cmd.Duration("ttl"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(os.Stdout, tok.Token)
			return err
		},
	}
}
