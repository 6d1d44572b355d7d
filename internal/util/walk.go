package util

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FindLogs walks each root and returns every file named filename, sorted so
// repeated walks of an unchanged tree partition identically. Roots that do not
// exist are logged and skipped; unreadable subdirectories are logged and
// pruned. An error is returned only if no root could be walked.
func FindLogs(ctx context.Context, roots []string, filename string, logger *slog.Logger) ([]string, error) {
	var found []string
	var walkErrs []error
	walked := 0

	for _, root := range roots {
		l := logger.With(slog.String("root", root))
		if _, err := os.Stat(root); err != nil {
			l.Warn("Skipping missing base directory.", "error", err)
			walkErrs = append(walkErrs, fmt.Errorf("stat %s: %w", root, err))
			continue
		}
		before := len(found)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				l.Warn("Skipping unreadable path.", "path", path, "error", err)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.IsDir() && d.Name() == filename {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		walked++
		l.Info("Walked base directory.", slog.Int("logs", len(found)-before))
	}

	if walked == 0 && len(roots) > 0 {
		return nil, fmt.Errorf("no base directory could be walked: %w", errors.Join(walkErrs...))
	}
	sort.Strings(found)
	return found, nil
}
