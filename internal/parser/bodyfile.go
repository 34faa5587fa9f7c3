package parser

import (
	"strconv"
	"strings"

	"artifact-ingest/internal/model"
	"artifact-ingest/internal/util"
)

const symlinkMarker = " -> "

// bodyfileTemplate is the column layout of a bodyfile record. The path slot
// holds either a plain path or "link -> target"; btime is optional. No
// capture may span a '|', so a line with extra columns never matches.
var bodyfileTemplate = []string{"inode", "{path}", "block_count", "permissions", "uid", "gid", "size", "mtime", "ctime", "atime"}

func bodyfileGrammar(symlink, btime bool) Grammar {
	parts := make([]string, 0, len(bodyfileTemplate)+1)
	for _, col := range bodyfileTemplate {
		switch col {
		case "{path}":
			if symlink {
				parts = append(parts, capture("symlink_path", patFieldLazy)+symlinkMarker+capture("symlink_target", patField))
			} else {
				parts = append(parts, capture("path", patField))
			}
		case "permissions":
			parts = append(parts, capture(col, patField))
		default:
			parts = append(parts, capture(col, patNumber))
		}
	}
	if btime {
		parts = append(parts, capture("btime", patNumber))
	}

	name := "path"
	marker := ""
	if symlink {
		name = "symlink"
		marker = symlinkMarker
	}
	if btime {
		name += "+btime"
	}
	return MustGrammar(name, marker, strings.Join(parts, `\|`))
}

// BodyfileCascade tries the symlink forms before plain paths, and the
// birth-time forms before the shorter ones.
func BodyfileCascade() *Cascade {
	return NewCascade(
		bodyfileGrammar(true, true),
		bodyfileGrammar(false, true),
		bodyfileGrammar(true, false),
		bodyfileGrammar(false, false),
	)
}

type bodyfileBuilder struct {
	consts model.EventConstants
}

func NewBodyfileBuilder(consts model.EventConstants) Builder {
	return &bodyfileBuilder{consts: consts}
}

func (b *bodyfileBuilder) Build(fields Fields, hostname string) (*model.NormalizedEvent, error) {
	size, err := strconv.ParseInt(fields["size"], 10, 64)
	if err != nil {
		return nil, &FieldError{Field: "size", Value: fields["size"], Err: err}
	}

	fullPath := fields["path"]
	additional := map[string]string{}
	if target, ok := fields["symlink_target"]; ok {
		fullPath = target
		additional["symlink"] = fields["symlink_path"]
	}
	setIfPresent(additional, "block_count", fields["block_count"])
	setIfPresent(additional, "permissions", fields["permissions"])
	setIfPresent(additional, "uid", fields["uid"])
	setIfPresent(additional, "gid", fields["gid"])
	if ts, ok := util.ToISO(fields["ctime"]); ok {
		additional["metadata_change_time"] = ts
	}

	file := &model.File{
		FullPath: fullPath,
		Size:     size,
	}
	file.LastModificationTime, _ = util.ToISO(fields["mtime"])
	file.LastAccessTime, _ = util.ToISO(fields["atime"])
	file.CreatedTime, _ = util.ToISO(fields["btime"])

	event := &model.NormalizedEvent{
		Principal: model.Principal{
			Hostname: hostname,
			Process: &model.Process{
				CommandLine: "stat",
				File:        &model.ProcessFile{StatInode: fields["inode"]},
			},
			File: file,
		},
		Metadata: model.EventMetadata{
			EventType:   model.EventTypeFileRead,
			ProductName: b.consts.ProductName,
			VendorName:  b.consts.VendorName,
			LogType:     b.consts.LogType,
		},
		Intermediary: model.Intermediary{Namespace: b.consts.Namespace},
	}
	if len(additional) > 0 {
		event.Additional = additional
	}
	return event, nil
}

func setIfPresent(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
