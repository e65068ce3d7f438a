package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/leaf-api/internal/config"
	"github.com/Brownie44l1/leaf-api/internal/handlers"
	"github.com/Brownie44l1/leaf-api/internal/lgr"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

var (
	cfgFile string
	envFile string

	appConfig *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Leaf health classification API",
	Long: "Serves a pre-trained leaf classifier over HTTP.\n\n" +
		"POST an image to /predict as the multipart field \"file\" to get a\n" +
		"Healthy/Diseased verdict with a confidence score.",
	SilenceUsage:       true,
	PersistentPreRunE:  initializeApp,
	PersistentPostRunE: finalizeApp,
	RunE:               runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a .env file loaded before the config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(predictCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}

	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	appConfig = cfg

	closer, err := lgr.Setup(lgr.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logCloser = closer

	return nil
}

func finalizeApp(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// newPipeline builds the lazily loaded model and the handler around it.
func newPipeline(cfg *config.Config) (*model.Cache, *handlers.Handler) {
	cache := model.NewCache(func() (model.Classifier, error) {
		lgr.Logger.Info("loading model", slog.String("path", cfg.Model.Path))
		return model.NewONNXClassifier(model.ONNXOptions{
			ModelPath:    cfg.Model.Path,
			MetadataPath: cfg.Model.MetadataPath,
			LibraryPath:  cfg.Model.ONNXLibrary,
			ImageSize:    cfg.Model.ImageSize,
		})
	})

	handler := handlers.NewHandler(model.NewService(cache), handlers.Options{
		ImageSize:      cfg.Model.ImageSize,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Debug:          cfg.Debug,
	})

	return cache, handler
}
