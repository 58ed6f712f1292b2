package config

import (
	"fmt"
	"runtime"
)

// DefaultLibraryPath picks the onnxruntime shared library shipped under ./lib for this platform.
func DefaultLibraryPath() string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so"
	}

	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
