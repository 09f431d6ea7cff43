package hf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

// tokenizerPath returns a tokenizer.json to test against, or skips.
func tokenizerPath(t *testing.T) string {
	t.Helper()
	path := os.Getenv("TK_TEST_TOKENIZER")
	if path == "" {
		t.Skip("TK_TEST_TOKENIZER not set")
	}
	return path
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "tokenizer.json"), "")
	if err == nil {
		t.Error("Expected error for missing tokenizer file")
	}
}

func TestNew_RequiresTokenizer(t *testing.T) {
	if _, err := New(nil, ""); err == nil {
		t.Error("Expected error for nil tokenizer")
	}
}

func TestTokenizer_RoundTrip(t *testing.T) {
	is := is.New(t)
	tk, err := Load(tokenizerPath(t), os.Getenv("TK_TEST_EOS"))
	is.NoErr(err)

	ids, err := tk.Tokenize("Hi there, friend.")
	is.NoErr(err)
	is.True(len(ids) > 0)

	text, err := tk.Detokenize(append(ids, tk.EndOfSequence()))
	is.NoErr(err)
	is.Equal(text, "Hi there, friend.") // end-of-sequence decodes to nothing

	empty, err := tk.Tokenize("")
	is.NoErr(err)
	is.Equal(len(empty), 0)
}
