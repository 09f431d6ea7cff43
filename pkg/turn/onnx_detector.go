package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chriscow/turnkit/pkg/ai/llm"
	"github.com/chriscow/turnkit/pkg/ai/llm/hf"
	"github.com/chriscow/turnkit/pkg/turn/internal"
)

const (
	// maxContextTokens is the left-truncated input length of the detector.
	maxContextTokens = 128
	maxContextTurns  = 6

	imEnd = "<|im_end|>"
)

// ONNXDetector scores end of utterance with a local ONNX graph.
type ONNXDetector struct {
	model     internal.ModelInfo
	modelPath string
	logger    *slog.Logger

	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	sessionErr  error
	runMu       sync.Mutex

	tokenizerOnce sync.Once
	tokenizer     *hf.Tokenizer
	tokenizerErr  error

	languagesOnce sync.Once
	languages     map[string]float64
	languagesErr  error
}

// NewONNXDetector creates a detector for the named model revision. Files
// are loaded lazily on first use.
func NewONNXDetector(modelName, modelPath string, logger *slog.Logger) (*ONNXDetector, error) {
	m, ok := internal.Lookup(modelName)
	if !ok {
		return nil, fmt.Errorf("unknown detector model: %s", modelName)
	}
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ONNXDetector{
		model:     m,
		modelPath: modelPath,
		logger:    logger.With(slog.String("detector", modelName)),
	}, nil
}

// UnlikelyThreshold implements Detector.
func (d *ONNXDetector) UnlikelyThreshold(language string) (float64, error) {
	if err := d.loadLanguages(); err != nil {
		return 0, err
	}
	threshold, ok := lookupLanguage(d.languages, language)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return threshold, nil
}

// SupportsLanguage implements Detector.
func (d *ONNXDetector) SupportsLanguage(language string) bool {
	if err := d.loadLanguages(); err != nil {
		return false
	}
	_, ok := lookupLanguage(d.languages, language)
	return ok
}

// PredictEndOfTurn implements Detector.
func (d *ONNXDetector) PredictEndOfTurn(ctx context.Context, chatCtx ChatContext) (float64, error) {
	start := time.Now()

	if err := d.loadSession(); err != nil {
		return 0, err
	}
	if err := d.loadTokenizer(); err != nil {
		return 0, err
	}

	ids, err := d.tokenizer.Tokenize(FormatChat(chatCtx.Messages))
	if err != nil {
		return 0, fmt.Errorf("tokenize: %w", err)
	}
	if len(ids) > maxContextTokens {
		ids = ids[len(ids)-maxContextTokens:]
	}

	prob, err := d.infer(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("inference: %w", err)
	}

	if latency := time.Since(start); latency > 25*time.Millisecond {
		d.logger.Debug("Slow end-of-utterance inference", slog.Duration("latency", latency))
	}
	return prob, nil
}

// FormatChat renders the last messages in the detector's chat template. The
// final user message is left open so the model scores whether it ends.
func FormatChat(messages []llm.Message) string {
	if len(messages) > maxContextTurns {
		messages = messages[len(messages)-maxContextTurns:]
	}
	var sb strings.Builder
	for _, msg := range messages {
		fmt.Fprintf(&sb, "<|im_start|><|%s|>%s%s", msg.Role, msg.Content, imEnd)
	}
	return strings.TrimSuffix(sb.String(), imEnd)
}

func (d *ONNXDetector) infer(ctx context.Context, ids []llm.TokenID) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0.5, nil
	}

	data := make([]int64, len(ids))
	for i, id := range ids {
		data[i] = int64(id)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(len(data))), data)
	if err != nil {
		return 0, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	d.runMu.Lock()
	err = d.session.Run([]ort.Value{input}, outputs)
	d.runMu.Unlock()
	if err != nil {
		return 0, err
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	values := logits.GetData()
	if len(values) == 0 {
		return 0, fmt.Errorf("empty output tensor")
	}

	prob := float64(values[len(values)-1])
	return min(max(prob, 0), 1), nil
}

func (d *ONNXDetector) loadSession() error {
	d.sessionOnce.Do(func() {
		path := internal.FilePath(d.modelPath, d.model, internal.ONNXFile)
		if _, err := os.Stat(path); err != nil {
			d.sessionErr = fmt.Errorf("model file %s: %w (run 'turnkit models download' first)", path, err)
			return
		}
		if err := ensureOrtEnv(); err != nil {
			d.sessionErr = fmt.Errorf("initialize onnxruntime: %w", err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			d.sessionErr = fmt.Errorf("session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.SetIntraOpNumThreads(max(1, runtime.NumCPU()/2)); err != nil {
			d.sessionErr = err
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			d.sessionErr = err
			return
		}
		if err := options.AddSessionConfigEntry("session.dynamic_block_base", "4"); err != nil {
			d.sessionErr = err
			return
		}

		d.session, err = ort.NewDynamicAdvancedSession(path,
			[]string{"input_ids"}, []string{"logits"}, options)
		if err != nil {
			d.sessionErr = fmt.Errorf("create session: %w", err)
		}
	})
	return d.sessionErr
}

func (d *ONNXDetector) loadTokenizer() error {
	d.tokenizerOnce.Do(func() {
		path := internal.FilePath(d.modelPath, d.model, "tokenizer.json")
		d.tokenizer, d.tokenizerErr = hf.Load(path, imEnd)
	})
	return d.tokenizerErr
}

func (d *ONNXDetector) loadLanguages() error {
	d.languagesOnce.Do(func() {
		d.languages, d.languagesErr = readLanguages(
			internal.FilePath(d.modelPath, d.model, "languages.json"))
	})
	return d.languagesErr
}

// readLanguages parses a languages.json of per-language thresholds. Entries
// are either a bare number or an object with a "threshold" field.
func readLanguages(path string) (map[string]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages: %w", err)
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode languages: %w", err)
	}

	out := make(map[string]float64, len(entries))
	for lang, v := range entries {
		var threshold float64
		if err := json.Unmarshal(v, &threshold); err == nil {
			out[lang] = threshold
			continue
		}
		var obj struct {
			Threshold float64 `json:"threshold"`
		}
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, fmt.Errorf("decode threshold for %s: %w", lang, err)
		}
		out[lang] = obj.Threshold
	}
	return out, nil
}

// lookupLanguage matches "en-US" against "en-US" first, then "en".
func lookupLanguage(thresholds map[string]float64, language string) (float64, bool) {
	if t, ok := thresholds[language]; ok {
		return t, true
	}
	if base, _, found := strings.Cut(language, "-"); found {
		t, ok := thresholds[base]
		return t, ok
	}
	return 0, false
}
