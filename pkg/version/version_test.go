package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersionInfo(t *testing.T) {
	info := GetVersionInfo()

	if !strings.HasPrefix(info, "turnkit version ") {
		t.Errorf("version info %q should start with 'turnkit version'", info)
	}
	if !strings.Contains(info, "dev") {
		t.Error("version info should contain default version 'dev'")
	}
	if !strings.Contains(info, runtime.Version()) {
		t.Errorf("version info should contain Go version %s", runtime.Version())
	}
}

func TestGetVersionInfoWithCustomValues(t *testing.T) {
	originalVersion := Version
	originalCommit := GitCommit
	originalBuildTime := BuildTime
	defer func() {
		Version = originalVersion
		GitCommit = originalCommit
		BuildTime = originalBuildTime
	}()

	Version = "v1.0.0"
	GitCommit = "abc123"
	BuildTime = "2024-01-01T00:00:00Z"

	got := Get()
	want := Info{Version: "v1.0.0", GitCommit: "abc123", BuildTime: "2024-01-01T00:00:00Z", GoVersion: runtime.Version()}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if !strings.Contains(got.String(), "commit: abc123") {
		t.Errorf("String() = %q, missing commit", got.String())
	}
}
