package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Resolve returns the manifest location. A pointer file whose first
// non-empty line names a path redirects the manifest there; otherwise
// defaultPath is used.
func Resolve(fs afero.Fs, pointerPath, defaultPath string) (string, error) {
	if pointerPath == "" {
		return defaultPath, nil
	}
	f, err := fs.Open(pointerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultPath, nil
		}
		return "", fmt.Errorf("failed to open manifest pointer %s: %w", pointerPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			log.Debug().Str("pointer", pointerPath).Str("manifest", line).Msg("Manifest redirected by pointer file")
			return line, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read manifest pointer %s: %w", pointerPath, err)
	}
	return defaultPath, nil
}

// Append adds one absolute path per line to the manifest, creating it and
// its directory if needed.
func Append(fs afero.Fs, path string, entries []string) error {
	if len(entries) == 0 {
		return nil
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	for _, e := range entries {
		abs, err := filepath.Abs(e)
		if err != nil {
			abs = e
		}
		buf.WriteString(abs)
		buf.WriteByte('\n')
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to manifest %s: %w", path, err)
	}
	return nil
}

// Entry is one manifest line and the byte offset just past it.
type Entry struct {
	Path string
	Next int64
}

// ReadFrom returns the complete lines of the manifest starting at offset.
// A trailing line without a newline is left for a later read.
func ReadFrom(fs afero.Fs, path string, offset int64) ([]Entry, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest %s: %w", path, err)
	}
	if info.Size() < offset {
		log.Warn().Str("file", path).Int64("offset", offset).Int64("size", info.Size()).Msg("Manifest shrank, reading from the start")
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek manifest %s: %w", path, err)
	}

	var entries []Entry
	br := bufio.NewReader(f)
	pos := offset
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("failed to read manifest %s: %w", path, err)
		}
		pos += int64(len(line))
		if p := strings.TrimSpace(line); p != "" {
			entries = append(entries, Entry{Path: p, Next: pos})
		}
	}
	return entries, nil
}
