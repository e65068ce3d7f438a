package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/leaf-api/internal/handlers"
	"github.com/Brownie44l1/leaf-api/internal/model"
)

var predictJSON bool

var predictCmd = &cobra.Command{
	Use:   "predict <image>",
	Short: "Classify a local image without starting the server",
	Args:  cobra.ExactArgs(1),
	RunE:  runPredict,
}

func init() {
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "print the API response body instead of a summary")
}

func runPredict(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	cache, handler := newPipeline(appConfig)
	defer cache.Close()

	out := handler.Analyze(handlers.Upload{
		Filename: filepath.Base(path),
		Content:  content,
	})

	if predictJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if out.Err != nil {
			enc.Encode(map[string]string{"error": out.Err.Message, "details": out.Err.Error()})
		} else {
			enc.Encode(out.Prediction)
		}
	} else {
		printOutcome(cmd, path, out)
	}

	if out.Err != nil {
		return errors.New(out.Err.Message)
	}
	return nil
}

func printOutcome(cmd *cobra.Command, path string, out handlers.Outcome) {
	w := cmd.OutOrStdout()

	if out.Err != nil {
		fmt.Fprintf(w, "%s %s\n", color.YellowString("✗"), out.Err.Message)
		fmt.Fprintf(w, "  %s\n", color.New(color.Faint).Sprint(out.Err.Error()))
		return
	}

	label := color.New(color.FgGreen, color.Bold).SprintFunc()
	if out.Prediction.Prediction != string(model.Healthy) {
		label = color.New(color.FgRed, color.Bold).SprintFunc()
	}

	fmt.Fprintf(w, "%s: %s (%.2f%% confidence, raw %.4f)\n",
		filepath.Base(path),
		label(out.Prediction.Prediction),
		out.Prediction.Confidence,
		out.Prediction.Details.RawConfidence,
	)
}
