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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/klio-ai/klio/pkg/admin"
	"github.com/klio-ai/klio/pkg/analytics"
	"github.com/klio-ai/klio/pkg/audit"
	"github.com/klio-ai/klio/pkg/bot"
	"github.com/klio-ai/klio/pkg/cache"
	"github.com/klio-ai/klio/pkg/config"
	"github.com/klio-ai/klio/pkg/dialog"
	"github.com/klio-ai/klio/pkg/gemini"
	"github.com/klio-ai/klio/pkg/keyring"
	"github.com/klio-ai/klio/pkg/maintain"
	"github.com/klio-ai/klio/pkg/quota"
)

func newBotCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := newLogger()

			ring, err := keyring.New(cfg.Gemini.Keys)
			if err != nil {
				return fmt.Errorf("init keys: %w", err)
			}

			var store *cache.Store
			if cfg.Cache.Enabled {
				store = cache.New(cfg.Cache.Path, cfg.Cache.MaxEntries, cfg.Cache.FlushInterval, logger)
				defer func() { _ = store.Close() }()
			}

			var auditor *audit.Logger
			if cfg.Audit.Enabled {
				auditor, err = audit.New(cfg.Audit)
				if err != nil {
					return fmt.Errorf("init audit: %w", err)
				}
				defer func() { _ = auditor.Close() }()
			}

			recorder, err := analytics.New(cfg.Analytics.DBPath, logger)
			if err != nil {
				return fmt.Errorf("init analytics: %w", err)
			}
			defer func() { _ = recorder.Close() }()

			var enforcer *quota.Enforcer
			if cfg.Quota.Enabled {
				enforcer = quota.New(cfg.Quota.Policies, recorder)
			}

			client := gemini.New(cfg.Gemini, ring, store, auditor, logger)

			ctrl := dialog.New(client, recorder, enforcer, dialog.Options{
				TopicTTL:   cfg.Cache.TopicTTL,
				AnswerTTL:  cfg.Cache.AnswerTTL,
				QuizTTL:    cfg.Cache.QuizTTL,
				Tiers:      cfg.Assessment.Tiers,
				SeedTopics: cfg.Topics.Seed,
			}, logger)

			b, err := bot.New(cfg.Telegram, ctrl, logger)
			if err != nil {
				return fmt.Errorf("init telegram: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			maint := maintain.NewManager(logger)
			if store != nil {
				maint.Register("clear_cache", maintain.ClearCache(store))
			}
			maint.Register("create_backup", maintain.CreateBackup(cfg.Maintain.BackupDir,
				cfg.Cache.Path, cfg.Analytics.DBPath, cfg.Audit.DBPath))
			maint.Register("update_api_data", maintain.RefreshTopics(ctrl.FetchTopics, ctrl))
			maint.Register("clean_logs", maintain.CleanLogs(cfg.Maintain.LogDir, cfg.Maintain.LogRetentionDays))
			maint.Register("restart", maintain.Restart(stop))

			var srv *admin.Server
			if cfg.Admin.Listen != "" {
				srv = admin.New(cfg.Admin, admin.Deps{
					Cache:    store,
					Recorder: recorder,
					Auditor:  auditor,
					Sessions: ctrl.Sessions(),
					Maint:    maint,
					Version:  version,
				}, logger)
				go func() {
					if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Msg("admin server failed")
						stop()
					}
				}()
			}

			go b.Start()
			logger.Info().Str("config", configPath).Msg("klio started")

			<-ctx.Done()
			logger.Info().Msg("shutting down")

			b.Stop()
			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("admin shutdown")
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "klio.yaml", "path to config file")
	return cmd
}

func newLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
