package automator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const tracePrefix = "trace-"

// saveTrace captures a screenshot plus the page URL and title into a
// timestamped directory under the trace dir, then prunes the ring so only
// the most recent invocations survive. Best effort: tracing never fails
// the acquisition that triggered it.
func (s *Service) saveTrace(ctx context.Context, reason string) {
	traceDir := s.config.Browser.TraceDir
	if traceDir == "" {
		return
	}

	dir := filepath.Join(traceDir, fmt.Sprintf("%s%s", tracePrefix, time.Now().Format("20060102-150405.000")))
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to create trace directory")
		return
	}

	captureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var screenshot []byte
	var pageURL, pageTitle string
	if err := chromedp.Run(captureCtx,
		chromedp.Location(&pageURL),
		chromedp.Title(&pageTitle),
		chromedp.CaptureScreenshot(&screenshot),
	); err != nil {
		s.logger.Warn().Err(err).Str("reason", reason).Msg("Failed to capture trace")
	}

	if len(screenshot) > 0 {
		if err := os.WriteFile(filepath.Join(dir, "page.png"), screenshot, 0644); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to write trace screenshot")
		}
	}

	meta := fmt.Sprintf("reason: %s\nurl: %s\ntitle: %s\ncaptured: %s\n",
		reason, pageURL, pageTitle, time.Now().Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(dir, "page.txt"), []byte(meta), 0644); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write trace metadata")
	}

	s.logger.Info().
		Str("dir", dir).
		Str("reason", reason).
		Str("url", pageURL).
		Msg("Saved trace")

	if err := pruneTraces(traceDir, s.config.Browser.MaxTraces); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to prune old traces")
	}
}

// pruneTraces deletes the oldest trace directories beyond keep. Directory
// names embed the capture timestamp so lexical order is chronological.
func pruneTraces(traceDir string, keep int) error {
	if keep < 1 {
		keep = 1
	}

	entries, err := os.ReadDir(traceDir)
	if err != nil {
		return err
	}

	var traces []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), tracePrefix) {
			traces = append(traces, entry.Name())
		}
	}

	if len(traces) <= keep {
		return nil
	}

	sort.Strings(traces)
	for _, name := range traces[:len(traces)-keep] {
		if err := os.RemoveAll(filepath.Join(traceDir, name)); err != nil {
			return err
		}
	}
	return nil
}
