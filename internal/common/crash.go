package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// crashDir receives crash reports; set by InstallCrashHandler
var crashDir = "./logs"

// InstallCrashHandler sets the crash report directory. Pair it with
// `defer common.RecoverWithCrashFile()` at the top of main.
func InstallCrashHandler(dir string) {
	if dir != "" {
		crashDir = dir
	}
	if err := os.MkdirAll(crashDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to create crash directory: %v\n", err)
	}
}

// LogsDir returns the directory next to the badger data dir used for log and crash files
func LogsDir(config *Config) string {
	return filepath.Join(filepath.Dir(filepath.Clean(config.Storage.Badger.Path)), "logs")
}

// WriteCrashFile writes a crash report with every goroutine's stack and
// returns its path ("" when the file could not be written)
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	now := time.Now()
	crashPath := filepath.Join(crashDir, fmt.Sprintf("crash-%s.log", now.Format("2006-01-02T15-04-05")))

	var report bytes.Buffer
	fmt.Fprintf(&report, "credsync crash report\ntime: %s\nversion: %s\n\n", now.Format(time.RFC3339), GetFullVersion())
	fmt.Fprintf(&report, "panic: %v\n\n%s\n", panicVal, stackTrace)
	fmt.Fprintf(&report, "goroutines: %d\n\n%s\n", runtime.NumGoroutine(), allGoroutineStacks())

	// Unbuffered write, the process is about to exit
	if err := os.WriteFile(crashPath, report.Bytes(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: failed to write crash file: %v\n%s", err, report.String())
		return ""
	}

	fmt.Fprintf(os.Stderr, "\nFATAL: panic %v, report saved to %s\n", panicVal, crashPath)
	return crashPath
}

func allGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) || len(buf) >= 16*1024*1024 {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
	}
}

// RecoverWithCrashFile writes a crash file for a panic on the calling goroutine and exits
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		buf := make([]byte, 8192)
		n := runtime.Stack(buf, false)
		WriteCrashFile(r, string(buf[:n]))
		os.Exit(1)
	}
}
