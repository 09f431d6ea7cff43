package turn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chriscow/turnkit/pkg/ai/llm"
)

// RemoteDetector scores end of utterance through an HTTP inference endpoint
// and falls back to a local detector when the endpoint fails.
type RemoteDetector struct {
	endpoint string
	client   *http.Client
	fallback Detector
	logger   *slog.Logger
}

// NewRemoteDetector creates a remote detector. fallback may be nil.
func NewRemoteDetector(endpoint string, fallback Detector, logger *slog.Logger) *RemoteDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteDetector{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
		fallback: fallback,
		logger:   logger.With(slog.String("endpoint", endpoint)),
	}
}

// RemoteRequest is the payload posted to the endpoint.
type RemoteRequest struct {
	Messages []llm.Message `json:"messages"`
	Language string        `json:"language,omitempty"`
}

// RemoteResponse is the endpoint's answer.
type RemoteResponse struct {
	Probability float64 `json:"eou_probability"`
	Error       string  `json:"error,omitempty"`
}

// UnlikelyThreshold implements Detector. Without a fallback, English uses
// 0.85 and every other language 0.80.
func (d *RemoteDetector) UnlikelyThreshold(language string) (float64, error) {
	if d.fallback != nil {
		return d.fallback.UnlikelyThreshold(language)
	}
	switch language {
	case "en", "en-US", "en-GB":
		return 0.85, nil
	default:
		return 0.80, nil
	}
}

// SupportsLanguage implements Detector.
func (d *RemoteDetector) SupportsLanguage(language string) bool {
	if d.fallback != nil {
		return d.fallback.SupportsLanguage(language)
	}
	return true
}

// PredictEndOfTurn implements Detector.
func (d *RemoteDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	prob, err := d.predict(ctx, chatCtx)
	if err == nil {
		return prob, nil
	}
	if d.fallback == nil {
		return 0, fmt.Errorf("remote end-of-utterance: %w", err)
	}
	d.logger.Warn("Remote end-of-utterance failed, using fallback", slog.String("error", err.Error()))
	return d.fallback.PredictEndOfTurn(ctx, chatCtx)
}

func (d *RemoteDetector) predict(ctx context.Context, chatCtx ChatContext) (float64, error) {
	body, err := json.Marshal(RemoteRequest{Messages: chatCtx.Messages, Language: chatCtx.Language})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "turnkit/turn-detector")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out RemoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("remote error: %s", out.Error)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("probability %f out of range", out.Probability)
	}
	return out.Probability, nil
}
