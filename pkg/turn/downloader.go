package turn

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/chriscow/turnkit/pkg/turn/internal"
)

// DefaultHubURL is the HuggingFace Hub host files are resolved against.
const DefaultHubURL = "https://huggingface.co"

// ModelInfo describes a set of files pinned to a repository revision.
type ModelInfo = internal.ModelInfo

// TokenizerModel describes the tokenizer.json of repo at revision.
func TokenizerModel(repo, revision string) ModelInfo {
	return internal.Tokenizer(repo, revision)
}

// DetectorModels returns every supported detector revision.
func DetectorModels() []ModelInfo {
	return append([]ModelInfo(nil), internal.Detectors...)
}

// ModelFile returns where file of m is stored under modelPath.
func ModelFile(modelPath string, m ModelInfo, file string) string {
	if modelPath == "" {
		modelPath = DefaultModelPath()
	}
	return internal.FilePath(modelPath, m, file)
}

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	ModelPath  string
	HubURL     string
	Models     []ModelInfo
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Downloader fetches model files and verifies their hashes.
type Downloader struct {
	modelPath string
	hubURL    string
	models    []ModelInfo
	client    *http.Client
	logger    *slog.Logger
}

// NewDownloader creates a downloader. It defaults to every detector model.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	d := &Downloader{
		modelPath: cfg.ModelPath,
		hubURL:    cfg.HubURL,
		models:    cfg.Models,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}
	if d.modelPath == "" {
		d.modelPath = DefaultModelPath()
	}
	if d.hubURL == "" {
		d.hubURL = DefaultHubURL
	}
	if d.models == nil {
		d.models = DetectorModels()
	}
	if d.client == nil {
		d.client = &http.Client{}
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Download fetches every configured model.
func (d *Downloader) Download() error {
	return d.DownloadAll(context.Background())
}

// DownloadAll fetches every configured model.
func (d *Downloader) DownloadAll(ctx context.Context) error {
	for _, m := range d.models {
		if err := d.DownloadModel(ctx, m); err != nil {
			return fmt.Errorf("download %s: %w", m.Name, err)
		}
	}
	return nil
}

// DownloadModel fetches the files of m that are missing or fail
// verification.
func (d *Downloader) DownloadModel(ctx context.Context, m ModelInfo) error {
	logger := d.logger.With(slog.String("repo", m.Repo), slog.String("revision", m.Revision))

	for _, file := range m.Files {
		dest := internal.FilePath(d.modelPath, m, file)
		if d.valid(dest, m.Hashes[file]) {
			logger.Debug("Model file up to date", slog.String("file", file))
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", file, err)
		}

		logger.Info("Downloading model file", slog.String("file", file))
		if err := d.fetch(ctx, m, file, dest); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}
	logger.Info("Model ready", slog.String("model", m.Name))
	return nil
}

// fetch writes to a temporary file and renames it into place once the hash
// checks out.
func (d *Downloader) fetch(ctx context.Context, m ModelInfo, file, dest string) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", d.hubURL, m.Repo, m.Revision, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if want := m.Hashes[file]; want != "" {
		if got := hex.EncodeToString(hasher.Sum(nil)); got != want {
			return fmt.Errorf("sha256 mismatch: got %s, want %s", got, want)
		}
	}
	return os.Rename(tmp.Name(), dest)
}

func (d *Downloader) valid(path, wantHash string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	if wantHash == "" {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return false
	}
	return hex.EncodeToString(hasher.Sum(nil)) == wantHash
}

// Status reports, per model name and revision, whether every file is
// present and verified.
func (d *Downloader) Status() map[string]bool {
	status := make(map[string]bool, len(d.models))
	for _, m := range d.models {
		complete := true
		for _, file := range m.Files {
			if !d.valid(internal.FilePath(d.modelPath, m, file), m.Hashes[file]) {
				complete = false
				break
			}
		}
		status[m.Name+"@"+m.Revision] = complete
	}
	return status
}

// DefaultModelPath is TK_MODEL_PATH, or ~/.turnkit/models.
func DefaultModelPath() string {
	if path := os.Getenv("TK_MODEL_PATH"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "turnkit-models")
	}
	return filepath.Join(home, ".turnkit", "models")
}
