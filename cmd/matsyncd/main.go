// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

// matsyncd is the push-synchronization server for the plant data model.
// Offline clients POST batches to /sync/push; accepted rows are merged
// into PostgreSQL and directed-chat notifications fan out over WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
	"github.com/Valstan/MatricaRMZ-sub001/notify"
	"github.com/Valstan/MatricaRMZ-sub001/pgstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "matsyncd",
		Short:         "Offline-first push synchronization server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file")
	root.AddCommand(newServeCmd(), newTokenCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("log.level", "info")
	v.SetDefault("sync.authorization", "strict_ownership")
	v.SetDefault("sync.strict_dependencies", false)
	v.SetDefault("sync.allow_conflicts", false)

	v.SetEnvPrefix("MATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), v)
		},
	}
	return cmd
}

func runServe(ctx context.Context, v *viper.Viper) error {
	logger := newLogger(v.GetString("log.level"))
	slog.SetDefault(logger)

	databaseURL := v.GetString("database.url")
	if databaseURL == "" {
		return errors.New("database.url is required (MATSYNC_DATABASE_URL)")
	}
	jwtSecret := v.GetString("auth.jwt_secret")
	if jwtSecret == "" {
		return errors.New("auth.jwt_secret is required (MATSYNC_AUTH_JWT_SECRET)")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("create pool: %w", err)
	}
	defer pool.Close()

	store, err := pgstore.New(ctx, pool, logger)
	if err != nil {
		return err
	}

	hub := notify.NewHub(logger)
	service := matsync.NewService(store, &matsync.ServiceConfig{
		AppName:       "matsyncd",
		Authorization: matsync.ParseAuthorizationPolicy(v.GetString("sync.authorization")),
	}, hub, logger)

	policy := matsync.SyncPolicy{
		StrictDependencies: v.GetBool("sync.strict_dependencies"),
		AllowConflicts:     v.GetBool("sync.allow_conflicts"),
	}

	auth := matsync.NewJWTAuth(jwtSecret)
	handlers := matsync.NewHTTPHandlers(service, auth, policy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/sync/push", handlers.HandlePush)
	mux.HandleFunc("/sync/status", handlers.HandleStatus)
	mux.HandleFunc("/sync/notifications", func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.GetActor(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		hub.ServeWS(w, r, &actor)
	})

	server := &http.Server{
		Addr:              v.GetString("server.addr"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Sync server listening",
			"addr", server.Addr,
			"authorization", service.Config().Authorization.String(),
			"strict_dependencies", policy.StrictDependencies)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("server.shutdown_timeout"))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newTokenCmd mints a client JWT, mainly for provisioning workstations and
// for poking the API with curl.
func newTokenCmd() *cobra.Command {
	var (
		userID   string
		username string
		role     string
		clientID string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a client access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			secret := v.GetString("auth.jwt_secret")
			if secret == "" {
				return errors.New("auth.jwt_secret is required (MATSYNC_AUTH_JWT_SECRET)")
			}
			if userID == "" || clientID == "" {
				return errors.New("--user-id and --client-id are required")
			}
			auth := matsync.NewJWTAuth(secret)
			token, err := auth.GenerateToken(matsync.Actor{
				ID:       userID,
				Username: username,
				Role:     role,
			}, clientID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "subject user id")
	cmd.Flags().StringVar(&username, "username", "", "display username")
	cmd.Flags().StringVar(&role, "role", "", "role claim (admin grants override rights)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "device/client id bound to the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}
