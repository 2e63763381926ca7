package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/franckalain/foodwise/internal/analysis"
	"github.com/franckalain/foodwise/internal/barcode"
	"github.com/franckalain/foodwise/internal/chat"
	"github.com/franckalain/foodwise/internal/common"
	"github.com/franckalain/foodwise/internal/config"
	"github.com/franckalain/foodwise/internal/database"
	"github.com/franckalain/foodwise/internal/imagestore"
	"github.com/franckalain/foodwise/internal/ml"
	"github.com/franckalain/foodwise/internal/nutritiondb"
	"github.com/franckalain/foodwise/internal/prompt"
	"github.com/franckalain/foodwise/internal/server"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "foodwise",
	Short: "FoodWise scan-to-insight server",
	Long: `Serves the FoodWise pipeline: label photos and barcodes go in,
personalized Nutri-Score analyses and nutrition chat come out.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to configuration file (default: $FOODWISE_CONFIG, config/config.json or config.json)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	// .env is optional
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath == "" {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := common.SetupLogger(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	slog.Info("Configuration loaded", "path", configPath, "ml_type", cfg.ML.Type, "images", cfg.Images.Backend)

	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	model, err := ml.NewModel(ml.Config{
		Type:              cfg.ML.Type,
		APIKey:            cfg.ML.APIKey,
		Endpoint:          cfg.ML.Endpoint,
		RequestsPerMinute: cfg.ML.RequestsPerMinute,
		Timeout:           cfg.ML.Timeout,
		ProjectID:         cfg.ML.ProjectID,
		Location:          cfg.ML.Location,
		CredentialsFile:   cfg.ML.CredentialsFile,
		ModelName:         cfg.ML.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to create ML model: %w", err)
	}
	if err := model.Load(ctx); err != nil {
		return fmt.Errorf("failed to load ML model: %w", err)
	}
	defer model.Close()

	images, err := imagestore.New(ctx, imagestore.Config{
		Backend:       cfg.Images.Backend,
		Dir:           cfg.Images.Dir,
		Bucket:        cfg.Images.Bucket,
		Region:        cfg.Images.Region,
		PublicBaseURL: cfg.Images.PublicBaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to create image store: %w", err)
	}

	prompts, err := prompt.NewBuilder()
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	retry := common.RetryOptions{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Delay:       cfg.Pipeline.RetryDelay,
		StepTimeout: cfg.Pipeline.StepTimeout,
	}

	deps := analysis.Deps{
		Detector: barcode.NewDetector(),
		Products: nutritiondb.NewClient(nutritiondb.Config{
			BaseURL:   cfg.NutritionDB.BaseURL,
			UserAgent: cfg.NutritionDB.UserAgent,
			Timeout:   cfg.NutritionDB.Timeout,
		}),
		Prompts: prompts,
		Model:   model,
		Scans:   db,
	}
	if images != nil {
		deps.Images = images
	}

	orchestrator := analysis.NewOrchestrator(deps, analysis.Options{
		Retry:       retry,
		Temperature: cfg.Pipeline.Temperature,
		OnTransition: func(key string, from, to analysis.State) {
			slog.Debug("Analysis state", "key", key, "from", from, "to", to)
		},
	})
	assistant := chat.NewAssistant(db, prompts, model, chat.Options{Retry: retry})

	srv := server.New(db, orchestrator, assistant, cfg.Server.StaticDir)
	if err := srv.Start(ctx, cfg.Server.Port); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
