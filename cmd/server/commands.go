package main

import (
	"fmt"
	"os"

	"safepost/internal/handler"
	"safepost/internal/llm"
	"safepost/internal/metrics"
	"safepost/internal/query"
	"safepost/internal/server"
	"safepost/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("Starting SafePost...")

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			providers, err := llm.NewMultiProviderClient(cmd.Context(), llm.MultiProviderConfig{
				Providers:   cfg.Providers,
				MaxFailures: cfg.MaxFailuresBeforeSwitch,
			}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize providers: %w", err)
			}
			defer providers.Close()

			m, err := metrics.New()
			if err != nil {
				return err
			}

			var captioner service.Captioner = providers
			if cfg.CaptionCache.Enabled {
				cache := llm.NewCaptionCache(providers, cfg.CaptionCache.TTL, logger)
				cache.OnLookup(m.ObserveCaptionCache)
				captioner = cache
			}

			moderator := service.NewModerator(store, captioner, providers, m, logger, service.Options{
				UploadDir:       cfg.Uploads.Dir,
				DefaultPageSize: cfg.Query.DefaultPageSize,
				MaxPageSize:     cfg.Query.MaxPageSize,
				SuggestionLimit: cfg.Query.SuggestionLimit,
				TopKeywords:     cfg.Analytics.TopKeywords,
			})

			gin.SetMode(cfg.Server.Mode)
			srv := server.NewServer(":"+cfg.Server.Port, handler.NewHandler(moderator, cfg.Uploads.MaxBytes, logger), m, logger)

			logger.Info("SafePost is running",
				zap.String("port", cfg.Server.Port),
				zap.String("database", cfg.Database.Type),
				zap.String("providers", providers.Name()))

			return srv.Run(cmd.Context())
		},
	}
}

func initCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the record store if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.LoadAll()
			if err != nil {
				return err
			}

			logger.Info("Store ready",
				zap.String("type", cfg.Database.Type),
				zap.String("path", cfg.Database.Path),
				zap.Int("records", len(records)))
			return nil
		},
	}
}

func exportCommand(configPath *string) *cobra.Command {
	var (
		out             string
		text            string
		classifications []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the records as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			labels, err := query.ParseClassifications(classifications)
			if err != nil {
				return err
			}

			store, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			m, err := metrics.New()
			if err != nil {
				return err
			}

			// Export never reaches the collaborators
			moderator := service.NewModerator(store, nil, nil, m, logger, service.Options{})

			data, err := moderator.Export(query.Filter{Text: text, Classifications: labels})
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			logger.Info("Export written", zap.String("path", out), zap.Int("bytes", len(data)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&text, "q", "", "only export records containing this text")
	cmd.Flags().StringSliceVar(&classifications, "classification", nil, "only export these labels")

	return cmd
}
