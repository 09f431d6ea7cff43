package turn

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the onnxruntime environment once per process.
// ONNXRUNTIME_LIB overrides the shared library location.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		switch lib := os.Getenv("ONNXRUNTIME_LIB"); {
		case lib != "":
			ort.SetSharedLibraryPath(lib)
		case runtime.GOOS == "darwin":
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}
