package parser

import (
	"strconv"
	"strings"
	"time"

	"artifact-ingest/internal/model"
	"artifact-ingest/internal/util"
)

func psGrammar(withParent bool) Grammar {
	parts := []string{capture("pid", patInteger)}
	name := "pid+user+etime+args"
	if withParent {
		parts = append(parts, capture("ppid", patInteger))
		name = "pid+ppid+user+etime+args"
	}
	parts = append(parts,
		capture("user", patUser),
		capture("elapsed", patElapsed),
		capture("command_line", patGreedyData),
	)
	return MustGrammar(name, "", strings.Join(parts, `\s+`))
}

// PsAxoCascade prefers the column set with a parent pid and falls back to
// the plain "pid,user,etime,args" listing.
func PsAxoCascade() *Cascade {
	return NewCascade(psGrammar(true), psGrammar(false))
}

type psAxoBuilder struct {
	consts model.EventConstants
	now    func() time.Time
}

func NewPsAxoBuilder(consts model.EventConstants, now func() time.Time) Builder {
	if now == nil {
		now = time.Now
	}
	return &psAxoBuilder{consts: consts, now: now}
}

func (b *psAxoBuilder) Build(fields Fields, hostname string) (*model.NormalizedEvent, error) {
	pid, err := strconv.ParseInt(fields["pid"], 10, 64)
	if err != nil {
		return nil, &FieldError{Field: "pid", Value: fields["pid"], Err: err}
	}
	process := &model.Process{
		Pid:         &pid,
		CommandLine: fields["command_line"],
	}
	if raw, ok := fields["ppid"]; ok {
		ppid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &FieldError{Field: "ppid", Value: raw, Err: err}
		}
		process.ParentPid = &ppid
	}

	event := &model.NormalizedEvent{
		Principal: model.Principal{
			Hostname: hostname,
			Process:  process,
			User:     &model.User{UserID: fields["user"]},
		},
		Metadata: model.EventMetadata{
			EventType:          model.EventTypeProcessEnumeration,
			ProductName:        b.consts.ProductName,
			CollectedTimestamp: util.FormatISO(b.now()),
		},
		Intermediary: model.Intermediary{Namespace: b.consts.Namespace},
	}
	if fields["elapsed"] != "" {
		event.Additional = map[string]string{"elapsed_time": fields["elapsed"]}
	}
	return event, nil
}
