package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// RasterConfig configures PDF page rasterization.
type RasterConfig struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // default 200
	MaxPages int    // 0 = no limit
}

// Rasterizer renders PDF pages to temporary PNGs for the OCR engines.
// Rendered files are scoped resources: the returned cleanup runs on every
// exit path and a deletion failure never masks the primary result.
type Rasterizer struct {
	cfg    RasterConfig
	runner Runner
	logger *slog.Logger
}

func NewRasterizer(cfg RasterConfig, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	return &Rasterizer{cfg: cfg, runner: newExecRunner(logger), logger: logger}
}

// Rasterize renders each page of the PDF to a PNG and returns the page paths
// in order. cleanup is non-nil whenever temp files may exist, including on
// error returns.
func (r *Rasterizer) Rasterize(ctx context.Context, path string) (pages []string, cleanup func(), err error) {
	// Validate the document and bound the page count before spending
	// rasterization time on it.
	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("pdf validation: %w", err)
	}
	if pageCount == 0 {
		return nil, nil, nil
	}

	tmpDir, err := os.MkdirTemp("", "inv-pp-*")
	if err != nil {
		return nil, nil, err
	}
	cleanup = func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			r.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", rmErr)
		}
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <tmp/page>
	args := []string{"-r", fmt.Sprintf("%d", r.cfg.DPI), "-png"}
	if r.cfg.MaxPages > 0 && pageCount > r.cfg.MaxPages {
		args = append(args, "-f", "1", "-l", fmt.Sprintf("%d", r.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	if _, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, args...); err != nil {
		return nil, cleanup, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, cleanup, fmt.Errorf("pdftoppm produced no images")
	}
	return matches, cleanup, nil
}
