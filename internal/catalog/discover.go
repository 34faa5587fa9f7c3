package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Discover searches root recursively for a regular file named name. When
// several exist, the shallowest wins and equal depths are broken by the
// lexicographically smallest slash-separated relative path.
func Discover(fs afero.Fs, root, name string) (string, bool, error) {
	var (
		best      string
		bestRel   string
		bestDepth int
		found     int
	)
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Debug().Err(err).Str("path", path).Msg("Skipping unreadable path during discovery")
			return nil
		}
		if info.IsDir() || info.Name() != name {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		depth := strings.Count(rel, "/")

		found++
		if best == "" || depth < bestDepth || (depth == bestDepth && rel < bestRel) {
			best, bestRel, bestDepth = path, rel, depth
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to search %s: %w", root, err)
	}
	if found > 1 {
		log.Debug().Str("root", root).Str("chosen", best).Int("candidates", found).Msg("Multiple artifact files found")
	}
	return best, best != "", nil
}
