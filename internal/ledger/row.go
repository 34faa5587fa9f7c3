package ledger

import (
	"fmt"
	"strconv"

	"github.com/fatih/structs"
	"github.com/stoewer/go-strcase"

	"artifact-ingest/internal/model"
)

// CoreColumns are always written first, in this order.
var CoreColumns = []string{
	"hostname",
	"source_path",
	"output_path",
	"total_lines",
	"success_count",
	"fail_count",
	"success_rate",
}

// Extension column names written by the ingestion coordinator.
const (
	ColRunID         = "run_id"
	ColArtifactKind  = "artifact_kind"
	ColSourceLogPath = "source_log_path"
	ColFieldFailures = "field_failures"
)

type Key struct {
	Hostname   string
	SourcePath string
}

// Row is one ledger line. Core values are kept as written so that rows
// from earlier runs round-trip unchanged.
type Row struct {
	Hostname     string `structs:"hostname"`
	SourcePath   string `structs:"source_path"`
	OutputPath   string `structs:"output_path"`
	TotalLines   string `structs:"total_lines"`
	SuccessCount string `structs:"success_count"`
	FailCount    string `structs:"fail_count"`
	SuccessRate  string `structs:"success_rate"`

	Extra map[string]string `structs:"-"`
}

func (r Row) Key() Key {
	return Key{Hostname: r.Hostname, SourcePath: r.SourcePath}
}

// Get returns the value of any core or extension column.
func (r Row) Get(column string) string {
	if v, ok := structs.Map(r)[column]; ok {
		s, _ := v.(string)
		return s
	}
	return r.Extra[column]
}

func (r Row) values(columns []string) []string {
	core := structs.Map(r)
	record := make([]string, len(columns))
	for i, col := range columns {
		if v, ok := core[col]; ok {
			record[i], _ = v.(string)
			continue
		}
		record[i] = r.Extra[col]
	}
	return record
}

func rowFromRecord(header []string, record []string) Row {
	var r Row
	for i, col := range header {
		v := record[i]
		switch col {
		case "hostname":
			r.Hostname = v
		case "source_path":
			r.SourcePath = v
		case "output_path":
			r.OutputPath = v
		case "total_lines":
			r.TotalLines = v
		case "success_count":
			r.SuccessCount = v
		case "fail_count":
			r.FailCount = v
		case "success_rate":
			r.SuccessRate = v
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[col] = v
		}
	}
	return r
}

// RowFromOutcome renders an outcome as a ledger row. Core values come from
// the outcome's structs tags; extension keys are snake_cased.
func RowFromOutcome(o model.ProcessingOutcome) Row {
	core := structs.Map(o)
	record := make([]string, len(CoreColumns))
	for i, col := range CoreColumns {
		record[i] = formatValue(core[col])
	}
	row := rowFromRecord(CoreColumns, record)
	if len(o.Extra) > 0 {
		row.Extra = make(map[string]string, len(o.Extra))
		for k, v := range o.Extra {
			row.Extra[strcase.SnakeCase(k)] = v
		}
	}
	return row
}

// Extensions flattens the exported fields of a struct into extension
// columns named after the snake_cased field names.
func Extensions(v interface{}) map[string]string {
	fields := structs.Fields(v)
	ext := make(map[string]string, len(fields))
	for _, f := range fields {
		ext[strcase.SnakeCase(f.Name())] = formatValue(f.Value())
	}
	return ext
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
