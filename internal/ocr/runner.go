package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner abstracts the external engine binaries (tesseract, easyocr,
// pdftoppm) so engine code can be tested without them installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// maxStderrLog caps how much engine stderr ends up in a log record.
const maxStderrLog = 8 << 10

// execRunner shells out to the named binary and records every invocation.
type execRunner struct {
	log *slog.Logger
}

func newExecRunner(logger *slog.Logger) execRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return execRunner{log: logger}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	started := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	elapsed := time.Since(started)

	if runErr != nil {
		r.log.Error("engine invocation failed",
			"binary", name,
			"args", strings.Join(args, " "),
			"elapsed_ms", elapsed.Milliseconds(),
			"error", runErr,
			"stderr", truncate(stderr.String(), maxStderrLog),
		)
	} else {
		r.log.Debug("engine invocation done",
			"binary", name,
			"args", strings.Join(args, " "),
			"elapsed_ms", elapsed.Milliseconds(),
			"stdout_bytes", stdout.Len(),
		)
	}

	return stdout.Bytes(), stderr.Bytes(), runErr
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
