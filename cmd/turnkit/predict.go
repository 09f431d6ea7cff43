package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/config"
	"github.com/chriscow/turnkit/pkg/turn"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict end-of-utterance probability for a chat read from stdin",
	Long: `Read a chat from stdin and print the end-of-utterance probability.
Input format: {"messages": [{"role": "user", "content": "Hello"}], "language": "en"}
Output format: {"eou_probability": 0.85, "threshold": 0.85, "end_of_turn": true}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Turn.Detector == "" {
			cfg.Turn.Detector = "onnx"
		}
		if model, _ := cmd.Flags().GetString("model"); model != "" {
			cfg.Turn.DetectorModel = model
		}
		if language, _ := cmd.Flags().GetString("language"); language != "" {
			cfg.Turn.Language = language
		}
		if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
			cfg.Turn.Threshold = threshold
		}

		det, err := newDetector(cfg.Turn, slog.Default())
		if err != nil {
			return err
		}
		return runPredict(cmd.Context(), det, cfg.Turn, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

type predictInput struct {
	Messages []llm.Message `json:"messages"`
	Language string        `json:"language,omitempty"`
}

type predictOutput struct {
	Probability float64 `json:"eou_probability"`
	Threshold   float64 `json:"threshold"`
	EndOfTurn   bool    `json:"end_of_turn"`
}

func runPredict(ctx context.Context, det turn.Detector, tc config.TurnConfig, in io.Reader, out io.Writer) error {
	var input predictInput
	if err := json.NewDecoder(in).Decode(&input); err != nil {
		return fmt.Errorf("failed to decode input JSON: %w", err)
	}
	if input.Language == "" {
		input.Language = tc.Language
	}

	threshold := tc.Threshold
	if threshold <= 0 {
		t, err := det.UnlikelyThreshold(input.Language)
		if err != nil {
			return err
		}
		threshold = t
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	prob, err := det.PredictEndOfTurn(ctx, turn.ChatContext{Messages: input.Messages, Language: input.Language})
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}

	return json.NewEncoder(out).Encode(predictOutput{
		Probability: prob,
		Threshold:   threshold,
		EndOfTurn:   prob >= threshold,
	})
}

func init() {
	predictCmd.Flags().String("model", "", "Detector model: english or multilingual")
	predictCmd.Flags().String("language", "", "Language of the chat")
	predictCmd.Flags().Float64("threshold", 0, "Override the language threshold")
}
