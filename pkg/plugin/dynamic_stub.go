//go:build !plugindyn || !linux

package plugin

import "errors"

// ErrDynamicUnsupported is returned by LoadDynamic in builds without the
// plugindyn tag.
var ErrDynamicUnsupported = errors.New("dynamic backends need a linux build with -tags=plugindyn")

// LoadDynamic is unavailable in this build.
func LoadDynamic(dir string) (int, error) {
	return 0, ErrDynamicUnsupported
}
