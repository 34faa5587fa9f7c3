package output_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"artifact-ingest/internal/output"
)

func TestSanitizeHostname(t *testing.T) {
	assert.Equal(t, "web-01.corp", output.SanitizeHostname("web-01.corp"))
	assert.Equal(t, "a_b_c", output.SanitizeHostname("a/b c"))
	assert.Equal(t, "_", output.SanitizeHostname(""))
	assert.Equal(t, "_", output.SanitizeHostname(".."))
}

func TestAllocator_SuffixPolicy(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/bodyfile_output_web-01.json", []byte("[]"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/out/bodyfile_output_web-01.2.json", []byte("[]"), 0644))

	a := output.NewAllocator(fs, "/out", output.FormatJSON, output.CollisionSuffix)

	p, err := a.Allocate("bodyfile", "web-01")
	require.NoError(t, err)
	assert.Equal(t, "/out/bodyfile_output_web-01.3.json", p)

	p, err = a.Allocate("bodyfile", "web-01")
	require.NoError(t, err)
	assert.Equal(t, "/out/bodyfile_output_web-01.4.json", p)

	p, err = a.Allocate("bodyfile", "db-02")
	require.NoError(t, err)
	assert.Equal(t, "/out/bodyfile_output_db-02.json", p)
}

func TestAllocator_OverwritePolicy(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/ps_axo_output_web-01.jsonl", []byte(""), 0644))

	a := output.NewAllocator(fs, "/out", output.FormatJSONL, output.CollisionOverwrite)

	p, err := a.Allocate("ps_axo", "web-01")
	require.NoError(t, err)
	assert.Equal(t, "/out/ps_axo_output_web-01.jsonl", p)

	p, err = a.Allocate("ps_axo", "web-01")
	require.NoError(t, err)
	assert.Equal(t, "/out/ps_axo_output_web-01.2.jsonl", p)
}

func TestParsePolicyAndFormat(t *testing.T) {
	_, err := output.ParseFormat("xml")
	assert.Error(t, err)
	f, err := output.ParseFormat("jsonl")
	require.NoError(t, err)
	assert.Equal(t, output.FormatJSONL, f)

	_, err = output.ParseCollisionPolicy("rename")
	assert.Error(t, err)
	p, err := output.ParseCollisionPolicy("overwrite")
	require.NoError(t, err)
	assert.Equal(t, output.CollisionOverwrite, p)
}

type sample struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

func TestEventWriter_Formats(t *testing.T) {
	tests := []struct {
		name     string
		format   output.Format
		events   []sample
		expected string
	}{
		{
			name:     "JSON Array",
			format:   output.FormatJSON,
			events:   []sample{{ID: 1, Name: "a"}, {ID: 2}},
			expected: "[\n{\"id\":1,\"name\":\"a\"},\n{\"id\":2}\n]\n",
		},
		{
			name:     "Empty JSON Array",
			format:   output.FormatJSON,
			expected: "[\n\n]\n",
		},
		{
			name:     "JSON Lines",
			format:   output.FormatJSONL,
			events:   []sample{{ID: 1}, {ID: 2}},
			expected: "{\"id\":1}\n{\"id\":2}\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			path := "/out/nested/events." + string(tt.format)

			w, err := output.Create(fs, path, tt.format)
			require.NoError(t, err)
			for _, e := range tt.events {
				require.NoError(t, w.Write(e))
			}
			assert.Equal(t, len(tt.events), w.Count())

			exists, _ := afero.Exists(fs, path)
			assert.False(t, exists, "final path must not exist before commit")

			require.NoError(t, w.Commit())

			data, err := afero.ReadFile(fs, path)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))

			exists, _ = afero.Exists(fs, path+".tmp")
			assert.False(t, exists)

			var decoded []sample
			require.NoError(t, output.ReadEvents(bytes.NewReader(data), func(raw json.RawMessage) error {
				var s sample
				if err := json.Unmarshal(raw, &s); err != nil {
					return err
				}
				decoded = append(decoded, s)
				return nil
			}))
			assert.Equal(t, tt.events, decoded)
		})
	}
}

func TestEventWriter_Abort(t *testing.T) {
	fs := afero.NewMemMapFs()
	w, err := output.Create(fs, "/out/x.json", output.FormatJSON)
	require.NoError(t, err)
	require.NoError(t, w.Write(sample{ID: 1}))
	w.Abort()

	for _, p := range []string{"/out/x.json", "/out/x.json.tmp"} {
		exists, _ := afero.Exists(fs, p)
		assert.False(t, exists, p)
	}
}

func TestReadEvents_Errors(t *testing.T) {
	noop := func(json.RawMessage) error { return nil }

	assert.NoError(t, output.ReadEvents(strings.NewReader("   \n"), noop))
	assert.Error(t, output.ReadEvents(strings.NewReader("[{\"id\":1},"), noop))
	assert.Error(t, output.ReadEvents(strings.NewReader("{\"id\":1}\n{oops"), noop))
}
