package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/park285/cheese-web/internal/chessbuilder"
	"github.com/park285/cheese-web/internal/config"
	"github.com/park285/cheese-web/internal/httpapi"
	"github.com/park285/cheese-web/internal/obslog"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:   "chess-web",
		Usage:  "two-player chess over HTTP",
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server (default)",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply the games and stats schemas to DATABASE_URL",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "issue a development credential for a user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "user id to sign for", Required: true},
					&cli.DurationFlag{Name: "ttl", Usage: "credential lifetime", Value: 24 * time.Hour},
					&cli.BoolFlag{Name: "session", Usage: "create a redis session instead of a JWT"},
				},
				Action: token,
			},
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		obslog.L().Error("exit", zap.Error(err))
		obslog.Sync()
		os.Exit(1)
	}
}

func serve(ctx context.Context, _ *cli.Command) error {
	log := obslog.L()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	deps, err := chessbuilder.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("deps_close_error", zap.Error(err))
		}
	}()

	router, err := httpapi.NewRouter(httpapi.Options{
		Manager:        deps.Manager,
		Stats:          deps.Stats,
		Watcher:        deps.Watcher,
		Auth:           deps.Auth,
		Messages:       deps.Messages,
		Metrics:        deps.Metrics,
		RequestTimeout: cfg.RequestTimeout,
		HistoryLimit:   cfg.GameHistoryLimit,
		AllowedOrigins: cfg.AllowedOrigins,
		Checks:         deps.Checks,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("http_shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("http_stopped")
	return nil
}

func migrate(ctx context.Context, _ *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return chessbuilder.Migrate(ctx, cfg)
}

func token(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	deps, err := chessbuilder.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	user, ttl := cmd.String("user"), cmd.Duration("ttl")
	if cmd.Bool("session") {
		if deps.Sessions == nil {
			return errors.New("sessions need REDIS_URL")
		}
		sess, err := deps.Sessions.Create(ctx, user, ttl)
		if err != nil {
			return err
		}
		fmt.Println(sess.SessionID)
		return nil
	}
	if deps.JWT == nil {
		return errors.New("tokens need SUPABASE_JWT_SECRET")
	}
	tok, err := deps.JWT.Sign(user, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
