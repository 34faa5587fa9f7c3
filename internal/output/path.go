package output

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/spf13/afero"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatJSONL:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// CollisionPolicy decides what happens when a default output name is
// already taken on disk.
type CollisionPolicy string

const (
	CollisionSuffix    CollisionPolicy = "suffix"
	CollisionOverwrite CollisionPolicy = "overwrite"
)

func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case CollisionSuffix, CollisionOverwrite:
		return CollisionPolicy(s), nil
	}
	return "", fmt.Errorf("unknown collision policy %q", s)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func SanitizeHostname(hostname string) string {
	s := unsafeNameChars.ReplaceAllString(hostname, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Allocator hands out output paths. Paths are unique among everything it has
// handed out; under CollisionSuffix they also avoid files already on disk.
type Allocator struct {
	fs       afero.Fs
	dir      string
	format   Format
	policy   CollisionPolicy
	mu       sync.Mutex
	reserved map[string]bool
}

func NewAllocator(fs afero.Fs, dir string, format Format, policy CollisionPolicy) *Allocator {
	return &Allocator{
		fs:       fs,
		dir:      dir,
		format:   format,
		policy:   policy,
		reserved: make(map[string]bool),
	}
}

// Allocate returns <dir>/<prefix>_output_<host>.<ext>, or the first free
// <dir>/<prefix>_output_<host>.<n>.<ext> with n starting at 2.
func (a *Allocator) Allocate(prefix, hostname string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	base := fmt.Sprintf("%s_output_%s", prefix, SanitizeHostname(hostname))
	ext := string(a.format)
	candidate := filepath.Join(a.dir, base+"."+ext)
	for n := 2; ; n++ {
		taken, err := a.taken(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			a.reserved[candidate] = true
			return candidate, nil
		}
		candidate = filepath.Join(a.dir, fmt.Sprintf("%s.%d.%s", base, n, ext))
	}
}

func (a *Allocator) taken(path string) (bool, error) {
	if a.reserved[path] {
		return true, nil
	}
	if a.policy == CollisionOverwrite {
		return false, nil
	}
	exists, err := afero.Exists(a.fs, path)
	if err != nil {
		return false, fmt.Errorf("failed to check output path %s: %w", path, err)
	}
	return exists, nil
}
