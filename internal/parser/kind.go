package parser

import (
	"fmt"
	"sort"
	"time"

	"artifact-ingest/internal/model"
)

// Builder maps the fields of a matched line to a normalized event. A
// returned error invalidates that one event only.
type Builder interface {
	Build(fields Fields, hostname string) (*model.NormalizedEvent, error)
}

// FieldError reports a matched field that failed type conversion.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: cannot convert %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

const (
	KindBodyfile = "bodyfile"
	KindPsAxo    = "ps_axo"
)

// Kind bundles everything needed to ingest one artifact type.
type Kind struct {
	Name         string
	ArtifactFile string
	OutputPrefix string
	LedgerFile   string
	Cascade      *Cascade
	Builder      Builder
}

// Registry is the fixed set of artifact kinds, built once per process.
type Registry struct {
	kinds map[string]Kind
}

// Kinds builds the registry. now stamps collection time on process events.
func Kinds(consts model.EventConstants, now func() time.Time) *Registry {
	return NewRegistry(
		Kind{
			Name:         KindBodyfile,
			ArtifactFile: "bodyfile.txt",
			OutputPrefix: "bodyfile",
			LedgerFile:   "body_file_tracker.csv",
			Cascade:      BodyfileCascade(),
			Builder:      NewBodyfileBuilder(consts),
		},
		Kind{
			Name:         KindPsAxo,
			ArtifactFile: "ps_-axo_pid_user_etime_args.txt",
			OutputPrefix: "ps_axo",
			LedgerFile:   "ps_axo_file_tracker.csv",
			Cascade:      PsAxoCascade(),
			Builder:      NewPsAxoBuilder(consts, now),
		},
	)
}

func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		r.kinds[k.Name] = k
	}
	return r
}

func (r *Registry) Lookup(name string) (Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
