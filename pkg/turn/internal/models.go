// Package internal lists the HuggingFace artefacts turnkit can fetch.
package internal

import (
	"path/filepath"
	"strings"
)

// ModelInfo describes a set of files pinned to one repository revision.
type ModelInfo struct {
	// Name selects the model in configuration ("english", "multilingual").
	Name     string
	Repo     string
	Revision string
	Files    []string
	// Hashes maps a file to its expected SHA-256. Files without an entry
	// are only checked for existence.
	Hashes map[string]string
}

// ONNXFile is the quantized detector graph inside a detector revision.
const ONNXFile = "onnx/model_q8.onnx"

var (
	EnglishDetector = ModelInfo{
		Name:     "english",
		Repo:     "livekit/turn-detector",
		Revision: "v1.2.2-en",
		Files:    []string{ONNXFile, "tokenizer.json", "languages.json"},
		Hashes: map[string]string{
			ONNXFile:         "fdd695a99bda01155fb0b5ce71d34cb9fd3902c62496db7a6c2c7bdeac310ac7",
			"tokenizer.json": "c8219a662de786c94771323c3500377970f5eaa3afbeaef9390c9a51db9f7884",
			"languages.json": "a9b71f62240293b05e6fa2b75ffc997ae00cefcc8da8b9567e39e3c356b7ee1",
		},
	}

	MultilingualDetector = ModelInfo{
		Name:     "multilingual",
		Repo:     "livekit/turn-detector",
		Revision: "v0.3.0-intl",
		Files:    []string{ONNXFile, "tokenizer.json", "languages.json"},
	}

	// Detectors enumerates the supported detector revisions.
	Detectors = []ModelInfo{EnglishDetector, MultilingualDetector}
)

// Tokenizer describes the tokenizer.json of an arbitrary repository, used
// to count tokens for a generation backend.
func Tokenizer(repo, revision string) ModelInfo {
	if revision == "" {
		revision = "main"
	}
	return ModelInfo{
		Name:     "tokenizer",
		Repo:     repo,
		Revision: revision,
		Files:    []string{"tokenizer.json"},
	}
}

// Lookup returns the detector revision registered under name.
func Lookup(name string) (ModelInfo, bool) {
	for _, m := range Detectors {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// Dir returns the directory holding a model's files.
func Dir(basePath string, m ModelInfo) string {
	return filepath.Join(basePath, strings.ReplaceAll(m.Repo, "/", "--"), m.Revision)
}

// FilePath returns the local path of one file of a model.
func FilePath(basePath string, m ModelInfo, file string) string {
	return filepath.Join(Dir(basePath, m), filepath.FromSlash(file))
}
