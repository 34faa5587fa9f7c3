package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// EventWriter streams events into <path>.tmp and only moves the file to its
// final path on Commit, so a failed job never leaves partial output behind.
type EventWriter struct {
	fs     afero.Fs
	path   string
	tmp    string
	format Format
	file   afero.File
	buf    *bufio.Writer
	count  int
}

func Create(fs afero.Fs, path string, format Format) (*EventWriter, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	w := &EventWriter{
		fs:     fs,
		path:   path,
		tmp:    tmp,
		format: format,
		file:   f,
		buf:    bufio.NewWriter(f),
	}
	if format == FormatJSON {
		if _, err := w.buf.WriteString("[\n"); err != nil {
			w.Abort()
			return nil, fmt.Errorf("failed to write %s: %w", tmp, err)
		}
	}
	return w, nil
}

func (w *EventWriter) Write(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if w.format == FormatJSON && w.count > 0 {
		if _, err := w.buf.WriteString(",\n"); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	if w.format == FormatJSONL {
		if err := w.buf.WriteByte('\n'); err != nil {
			return err
		}
	}
	w.count++
	return nil
}

func (w *EventWriter) Count() int {
	return w.count
}

// Commit finishes the document, closes the file and renames it into place.
func (w *EventWriter) Commit() error {
	if w.format == FormatJSON {
		if _, err := w.buf.WriteString("\n]\n"); err != nil {
			w.Abort()
			return fmt.Errorf("failed to write %s: %w", w.tmp, err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("failed to flush %s: %w", w.tmp, err)
	}
	if err := w.file.Close(); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("failed to close %s: %w", w.tmp, err)
	}
	if err := w.fs.Rename(w.tmp, w.path); err != nil {
		_ = w.fs.Remove(w.tmp)
		return fmt.Errorf("failed to move %s into place: %w", w.path, err)
	}
	return nil
}

// Abort discards everything written so far.
func (w *EventWriter) Abort() {
	_ = w.file.Close()
	_ = w.fs.Remove(w.tmp)
}
