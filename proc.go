package sfifo

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func processID() uint32 {
	return uint32(os.Getpid())
}

// processName returns the short name of the current process, preferring the
// kernel's comm entry where available.
func processName() string {
	if b, err := os.ReadFile("/proc/" + strconv.Itoa(os.Getpid()) + "/comm"); err == nil {
		if name := strings.TrimSpace(string(b)); name != "" {
			return name
		}
	}
	if exe, err := os.Executable(); err == nil {
		return filepath.Base(exe)
	}
	if len(os.Args) > 0 {
		return filepath.Base(os.Args[0])
	}
	return "unknown"
}
