package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/s33g/prompter/internal/config"
	"github.com/s33g/prompter/internal/tokens"
)

func newCalibrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate [file]",
		Short: "Measure the chars-per-token ratio of a text sample",
		Long: `Count a sample with a real tokenizer and compare it with the
estimate the configured chars_per_token gives. Reads stdin without a file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read sample: %w", err)
			}
			sample := string(data)

			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				cfg = config.DefaultConfig()
			}

			encoding, _ := cmd.Flags().GetString("encoding")
			if encoding == "" {
				model, _ := cmd.Flags().GetString("model")
				if model == "" {
					model = cfg.Budget.DefaultModel
				}
				encoding = tokens.EncodingForModel(model)
			}

			calibrator := tokens.NewCalibrator()
			ratio, err := calibrator.Ratio(sample, encoding)
			if err != nil {
				return err
			}
			actual, err := calibrator.Count(sample, encoding)
			if err != nil {
				return err
			}
			estimated := tokens.EstimateTokens(sample, cfg.Budget.CharsPerToken)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "encoding:          %s\n", encoding)
			fmt.Fprintf(out, "bytes:             %d\n", len(sample))
			fmt.Fprintf(out, "tokens:            %d\n", actual)
			fmt.Fprintf(out, "chars per token:   %.2f\n", ratio)
			fmt.Fprintf(out, "configured ratio:  %.2f (estimates %d tokens)\n", cfg.Budget.CharsPerToken, estimated)
			if estimated < actual {
				fmt.Fprintln(out, "The configured ratio underestimates this sample; consider lowering chars_per_token.")
			}
			return nil
		},
	}
	cmd.Flags().String("encoding", "", "tiktoken encoding (default: chosen from --model)")
	return cmd
}
