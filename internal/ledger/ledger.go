package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// ErrCorrupt is returned by Load when the ledger exists but cannot be used.
var ErrCorrupt = errors.New("ledger unreadable")

// Ledger is the persisted progress table keyed by (hostname, source_path).
// It is not safe for concurrent use; the ingestion coordinator is its only
// writer.
type Ledger struct {
	fs      afero.Fs
	path    string
	columns []string
	rows    []Row
	index   map[Key]int
	corrupt bool
}

func New(fs afero.Fs, path string) *Ledger {
	return &Ledger{
		fs:      fs,
		path:    path,
		columns: append([]string(nil), CoreColumns...),
		index:   make(map[Key]int),
	}
}

// Load reads the ledger at path. A missing or empty file is an empty ledger.
// An unreadable or malformed file also yields an empty, usable ledger, along
// with an error wrapping ErrCorrupt; the next Save keeps a .bak copy of it.
func Load(fs afero.Fs, path string) (*Ledger, error) {
	l := New(fs, path)

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		l.corrupt = true
		return l, errors.Wrapf(ErrCorrupt, "read %s: %v", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return l, nil
	}

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		l.corrupt = true
		return l, errors.Wrapf(ErrCorrupt, "parse %s: %v", path, err)
	}

	header := records[0]
	if missing := missingCore(header); len(missing) > 0 {
		l.corrupt = true
		return l, errors.Wrapf(ErrCorrupt, "%s is missing columns %v", path, missing)
	}

	l.columns = unionColumns(header, nil)
	for _, record := range records[1:] {
		l.put(rowFromRecord(header, record))
	}
	log.Debug().Str("file", path).Int("rows", len(l.rows)).Msg("Loaded ledger")
	return l, nil
}

func missingCore(header []string) []string {
	seen := make(map[string]bool, len(header))
	for _, col := range header {
		seen[col] = true
	}
	var missing []string
	for _, col := range CoreColumns {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	return missing
}

// unionColumns returns the core columns followed by the sorted union of all
// extension columns in existing and the extra keys of rows.
func unionColumns(existing []string, rows []Row) []string {
	core := make(map[string]bool, len(CoreColumns))
	for _, col := range CoreColumns {
		core[col] = true
	}
	ext := make(map[string]bool)
	for _, col := range existing {
		if !core[col] {
			ext[col] = true
		}
	}
	for _, r := range rows {
		for col := range r.Extra {
			if !core[col] {
				ext[col] = true
			}
		}
	}
	extCols := make([]string, 0, len(ext))
	for col := range ext {
		extCols = append(extCols, col)
	}
	sort.Strings(extCols)
	return append(append([]string(nil), CoreColumns...), extCols...)
}

func (l *Ledger) put(r Row) {
	if i, ok := l.index[r.Key()]; ok {
		l.rows[i] = r
		return
	}
	l.index[r.Key()] = len(l.rows)
	l.rows = append(l.rows, r)
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) Has(key Key) bool {
	_, ok := l.index[key]
	return ok
}

func (l *Ledger) Len() int {
	return len(l.rows)
}

func (l *Ledger) Columns() []string {
	return append([]string(nil), l.columns...)
}

func (l *Ledger) Rows() []Row {
	return append([]Row(nil), l.rows...)
}

// Merge folds incoming rows into the ledger. Rows whose key is already
// present are replaced in place; the rest are appended in (hostname,
// source_path) order. Extension columns only ever grow.
func (l *Ledger) Merge(incoming []Row) {
	rows, columns := Merge(l.rows, l.columns, incoming)
	l.rows = rows
	l.columns = columns
	l.index = make(map[Key]int, len(rows))
	for i, r := range rows {
		l.index[r.Key()] = i
	}
}

// Merge is the pure form of Ledger.Merge.
func Merge(existing []Row, columns []string, incoming []Row) ([]Row, []string) {
	merged := append([]Row(nil), existing...)
	index := make(map[Key]int, len(merged))
	for i, r := range merged {
		index[r.Key()] = i
	}

	var added []Row
	addedIndex := make(map[Key]int)
	for _, r := range incoming {
		if i, ok := index[r.Key()]; ok {
			merged[i] = r
			continue
		}
		if i, ok := addedIndex[r.Key()]; ok {
			added[i] = r
			continue
		}
		addedIndex[r.Key()] = len(added)
		added = append(added, r)
	}
	sort.SliceStable(added, func(i, j int) bool {
		if added[i].Hostname != added[j].Hostname {
			return added[i].Hostname < added[j].Hostname
		}
		return added[i].SourcePath < added[j].SourcePath
	})
	merged = append(merged, added...)
	return merged, unionColumns(columns, incoming)
}

// Save rewrites the whole ledger through a temporary file and a rename.
func (l *Ledger) Save() error {
	if l.corrupt {
		if err := l.backup(); err != nil {
			return err
		}
		l.corrupt = false
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(l.columns); err != nil {
		return fmt.Errorf("failed to encode ledger header: %w", err)
	}
	for _, r := range l.rows {
		if err := w.Write(r.values(l.columns)); err != nil {
			return fmt.Errorf("failed to encode ledger row %s: %w", r.Hostname, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, buf.Bytes(), 0644); err != nil {
		log.Error().Err(err).Str("file", tmp).Msg("Failed to write temporary ledger file")
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := l.fs.Rename(tmp, l.path); err != nil {
		log.Error().Err(err).Str("from", tmp).Str("to", l.path).Msg("Failed to rename ledger file")
		_ = l.fs.Remove(tmp)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	log.Debug().Str("file", l.path).Int("rows", len(l.rows)).Msg("Saved ledger")
	return nil
}

func (l *Ledger) backup() error {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger for backup: %w", err)
	}
	bak := l.path + ".bak"
	if err := afero.WriteFile(l.fs, bak, data, 0644); err != nil {
		return fmt.Errorf("failed to back up ledger: %w", err)
	}
	log.Warn().Str("file", l.path).Str("backup", bak).Msg("Kept a copy of the unreadable ledger")
	return nil
}
