package writeback

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/bidsmeta/api"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, fs billy.Filesystem, path string) ([]byte, error) {
	t.Helper()
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func TestMarshal(t *testing.T) {
	doc := api.Document{
		"subject_id": "01",
		"qi":         map[string]any{"snr": 5},
		"note":       "Müller <a&b>",
	}
	got, err := Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, `{"note":"Müller <a&b>","qi":{"snr":5},"subject_id":"01"}`, string(got))
}

func TestMarshal_LineSeparators(t *testing.T) {
	doc := api.Document{
		"sep":     "a\u2028b\u2029c",
		"literal": `x\u2028y`,
		"quote":   "say \"hi\"\n",
	}
	got, err := Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, "{\"literal\":\"x\\\\u2028y\",\"quote\":\"say \\\"hi\\\"\\n\",\"sep\":\"a\u2028b\u2029c\"}", string(got))

	var back map[string]any
	require.NoError(t, json.Unmarshal(got, &back))
	assert.Equal(t, map[string]any(doc), back)
}

func TestWriteDocument(t *testing.T) {
	t.Run("creates parents and writes content", func(t *testing.T) {
		fs := memfs.New()
		path := "/out/iqms/sub-01_T1w.json"
		require.NoError(t, WriteDocument(fs, path, api.Document{"subject_id": "01"}))

		got, err := readAll(t, fs, path)
		require.NoError(t, err)
		assert.Equal(t, `{"subject_id":"01"}`, string(got))

		entries, err := fs.ReadDir("/out/iqms")
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp file is renamed away")
	})

	t.Run("overwrites existing document", func(t *testing.T) {
		fs := memfs.New()
		path := "/out/sub-01_T1w.json"
		require.NoError(t, WriteDocument(fs, path, api.Document{"snr": 1}))
		require.NoError(t, WriteDocument(fs, path, api.Document{"snr": 2}))

		got, err := readAll(t, fs, path)
		require.NoError(t, err)
		assert.Equal(t, `{"snr":2}`, string(got))
	})

	t.Run("host filesystem", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "nested", "sub-01_bold.json")
		require.NoError(t, WriteDocument(osfs.New("/"), path, api.Document{"qc_type": "func"}))

		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, `{"qc_type":"func"}`, string(got))
	})
}
