package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"artifact-ingest/internal/model"
)

// UnknownHostname stands in for catalog rows without a hostname.
const UnknownHostname = "UNKNOWN"

var columnAliases = map[string]string{
	"hostname":         "hostname",
	"uac_log_path":     "source_log_path",
	"source_log_path":  "source_log_path",
	"base_path":        "source_root_path",
	"source_root_path": "source_root_path",
}

// Read parses the evidence catalog. Columns are located by header name;
// unknown columns are ignored. The source root is base_path when present and
// the directory of uac_log_path otherwise.
func Read(fs afero.Fs, path string) ([]model.CatalogRecord, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open evidence catalog %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}
	cols := make(map[string]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	if _, ok := cols["source_log_path"]; !ok {
		if _, ok := cols["source_root_path"]; !ok {
			return nil, fmt.Errorf("catalog %s has neither a uac_log_path nor a base_path column", path)
		}
	}

	get := func(record []string, col string) string {
		i, ok := cols[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var records []model.CatalogRecord
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog line %d: %w", line, err)
		}
		rec := model.CatalogRecord{
			Hostname:      get(record, "hostname"),
			SourceLogPath: get(record, "source_log_path"),
			SourceRoot:    get(record, "source_root_path"),
		}
		if rec.Hostname == "" {
			rec.Hostname = UnknownHostname
		}
		if rec.SourceRoot == "" && rec.SourceLogPath != "" {
			rec.SourceRoot = filepath.Dir(rec.SourceLogPath)
		}
		if rec.SourceRoot == "" {
			log.Warn().Int("line", line).Str("hostname", rec.Hostname).Msg("Catalog row has no source path, skipping")
			continue
		}
		records = append(records, rec)
	}
	log.Debug().Str("file", path).Int("records", len(records)).Msg("Read evidence catalog")
	return records, nil
}
