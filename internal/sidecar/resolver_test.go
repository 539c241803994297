package sidecar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/bidsmeta/api"
	"github.com/agentic-research/bidsmeta/internal/bids"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	boldFile = "/ds/sub-01/func/sub-01_task-rest_run-1_bold.nii.gz"
	t1wFile  = "/ds/sub-01/ses-pre/anat/sub-01_ses-pre_T1w.nii.gz"
)

func writeFile(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fs, path, []byte(content), 0o644))
}

func TestResolver_Chain(t *testing.T) {
	r := NewResolver(WithFilesystem(memfs.New()))

	t.Run("no session", func(t *testing.T) {
		chain, err := r.Chain(boldFile)
		require.NoError(t, err)
		assert.Equal(t, Chain{
			"/ds/task-rest_bold.json",
			"/ds/sub-01/sub-01_task-rest_bold.json",
			"/ds/sub-01/func/sub-01_task-rest_run-1_bold.json",
		}, chain)
	})

	t.Run("with session", func(t *testing.T) {
		chain, err := r.Chain(t1wFile)
		require.NoError(t, err)
		assert.Equal(t, Chain{
			"/ds/T1w.json",
			"/ds/sub-01/sub-01_T1w.json",
			"/ds/sub-01/ses-pre/sub-01_ses-pre_T1w.json",
			"/ds/sub-01/ses-pre/anat/sub-01_ses-pre_T1w.json",
		}, chain)
	})

	t.Run("prefix collision is classified by first three characters", func(t *testing.T) {
		chain, err := r.Chain("/ds/sub-01/func/sub-01_task-rest_runner-x_bold.nii")
		require.NoError(t, err)
		assert.Equal(t, "/ds/task-rest_bold.json", chain[0])
		assert.Equal(t, "/ds/sub-01/sub-01_task-rest_bold.json", chain[1])
		assert.Equal(t, "/ds/sub-01/func/sub-01_task-rest_runner-x_bold.json", chain[2])
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := r.Chain("/ds/func/task-rest_bold.nii.gz")
		assert.ErrorIs(t, err, bids.ErrParse)
	})
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("most specific sidecar wins", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "/ds/task-rest_bold.json", `{"TR": 1, "TaskName": "rest"}`)
		writeFile(t, fs, "/ds/sub-01/sub-01_task-rest_bold.json", `{"TR": 2}`)
		writeFile(t, fs, "/ds/sub-01/func/sub-01_task-rest_run-1_bold.json", `{"TR": 3}`)

		md, err := NewResolver(WithFilesystem(fs)).Resolve(boldFile)
		require.NoError(t, err)
		assert.EqualValues(t, 3, md["TR"])
		assert.Equal(t, "rest", md["TaskName"])
	})

	t.Run("session level sits between subject and file", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "/ds/T1w.json", `{"A": "top", "B": "top", "C": "top", "D": "top"}`)
		writeFile(t, fs, "/ds/sub-01/sub-01_T1w.json", `{"B": "sub", "C": "sub", "D": "sub"}`)
		writeFile(t, fs, "/ds/sub-01/ses-pre/sub-01_ses-pre_T1w.json", `{"C": "ses", "D": "ses"}`)
		writeFile(t, fs, "/ds/sub-01/ses-pre/anat/sub-01_ses-pre_T1w.json", `{"D": "file"}`)

		md, err := NewResolver(WithFilesystem(fs)).Resolve(t1wFile)
		require.NoError(t, err)
		assert.Equal(t, api.Metadata{"A": "top", "B": "sub", "C": "ses", "D": "file"}, md)
	})

	t.Run("only top level", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "/ds/task-rest_bold.json", `{"RepetitionTime": 2.5, "SliceTiming": [0, 0.5, 1.0], "Manufacturer": {"name": "Siemens"}}`)

		md, err := NewResolver(WithFilesystem(fs)).Resolve(boldFile)
		require.NoError(t, err)
		assert.Len(t, md, 3)
		assert.Equal(t, 2.5, md["RepetitionTime"])
		assert.Equal(t, map[string]any{"name": "Siemens"}, md["Manufacturer"])
		assert.Len(t, md["SliceTiming"], 3)
	})

	t.Run("run sidecars are never split out", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "/ds/task-rest_run-1_bold.json", `{"Wrong": true}`)

		md, err := NewResolver(WithFilesystem(fs)).Resolve(boldFile)
		require.NoError(t, err)
		assert.Empty(t, md)
	})

	t.Run("no sidecars", func(t *testing.T) {
		md, err := NewResolver(WithFilesystem(memfs.New())).Resolve(boldFile)
		require.NoError(t, err)
		assert.NotNil(t, md)
		assert.Empty(t, md)
	})

	t.Run("directory candidate is skipped", func(t *testing.T) {
		fs := memfs.New()
		require.NoError(t, fs.MkdirAll("/ds/task-rest_bold.json", 0o755))

		md, err := NewResolver(WithFilesystem(fs)).Resolve(boldFile)
		require.NoError(t, err)
		assert.Empty(t, md)
	})

	t.Run("malformed sidecar is fatal", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "/ds/sub-01/sub-01_task-rest_bold.json", `{"TR": `)

		_, err := NewResolver(WithFilesystem(fs)).Resolve(boldFile)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMalformed)
		var me *MalformedError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, "/ds/sub-01/sub-01_task-rest_bold.json", me.Path)
	})

	t.Run("non object sidecar is fatal", func(t *testing.T) {
		fs := memfs.New()
		writeFile(t, fs, "/ds/task-rest_bold.json", `[1, 2, 3]`)

		_, err := NewResolver(WithFilesystem(fs)).Resolve(boldFile)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestResolver_MergeIdempotent(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/ds/task-rest_bold.json", `{"TR": 1, "Echo": 0.03}`)
	writeFile(t, fs, "/ds/sub-01/func/sub-01_task-rest_run-1_bold.json", `{"TR": 3}`)

	r := NewResolver(WithFilesystem(fs))
	chain, err := r.Chain(boldFile)
	require.NoError(t, err)

	once, err := r.Merge(chain)
	require.NoError(t, err)
	twice, err := r.Merge(append(append(Chain{}, chain...), chain...))
	require.NoError(t, err)
	again, err := r.Merge(chain)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	assert.Equal(t, once, again)
}

func TestResolver_Cache(t *testing.T) {
	root := t.TempDir()
	top := filepath.Join(root, "task-rest_bold.json")
	bold := filepath.Join(root, "sub-01", "func", "sub-01_task-rest_bold.nii.gz")
	require.NoError(t, os.WriteFile(top, []byte(`{"RepetitionTime": 2, "Manufacturer": {"name": "acme"}}`), 0o644))
	info, err := os.Stat(top)
	require.NoError(t, err)

	r := NewResolver(WithCache(8))
	want := api.Metadata{"RepetitionTime": int64(2), "Manufacturer": map[string]any{"name": "acme"}}

	md, err := r.Resolve(bold)
	require.NoError(t, err)
	assert.Equal(t, want, md)

	t.Run("unchanged file is served from the cache", func(t *testing.T) {
		// Same size and mtime: only a cache hit can still see the old value.
		require.NoError(t, os.WriteFile(top, []byte(`{"RepetitionTime": 3, "Manufacturer": {"name": "acme"}}`), 0o644))
		require.NoError(t, os.Chtimes(top, info.ModTime(), info.ModTime()))

		got, err := r.Resolve(bold)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("nested values are not shared between results", func(t *testing.T) {
		first, err := r.Resolve(bold)
		require.NoError(t, err)
		first["Manufacturer"].(map[string]any)["name"] = "mutated"
		first["Extra"] = true

		second, err := r.Resolve(bold)
		require.NoError(t, err)
		assert.Equal(t, want, second)
	})

	t.Run("rewritten file is reread", func(t *testing.T) {
		require.NoError(t, os.WriteFile(top, []byte(`{"RepetitionTime": 2.5}`), 0o644))

		got, err := r.Resolve(bold)
		require.NoError(t, err)
		assert.Equal(t, api.Metadata{"RepetitionTime": 2.5}, got)
	})
}

func TestResolver_HostFilesystem(t *testing.T) {
	root := t.TempDir()
	funcDir := filepath.Join(root, "sub-02", "func")
	require.NoError(t, os.MkdirAll(funcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "task-rest_bold.json"), []byte(`{"TR": 1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(funcDir, "sub-02_task-rest_bold.json"), []byte(`{"TR": 3, "Name": "ü"}`), 0o644))

	md, err := NewResolver().Resolve(filepath.Join(funcDir, "sub-02_task-rest_bold.nii.gz"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, md["TR"])
	assert.Equal(t, "ü", md["Name"])
}

func TestResolver_Read(t *testing.T) {
	fs := memfs.New()
	writeFile(t, fs, "/ds/task-rest_bold.json", `{"RepetitionTime": 2.0, "SliceTiming": [0.0, 0.5]}`)
	r := NewResolver(WithFilesystem(fs))

	t.Run("full metadata", func(t *testing.T) {
		res, err := r.Read(boldFile)
		require.NoError(t, err)
		assert.Equal(t, "01", res.Entities.SubjectID)
		require.NotNil(t, res.Entities.RunID)
		assert.Equal(t, "1", *res.Entities.RunID)
		assert.Equal(t, 2.0, res.Metadata["RepetitionTime"])
		assert.Nil(t, res.Fields)
	})

	t.Run("selected fields", func(t *testing.T) {
		res, err := r.Read(boldFile, "RepetitionTime", "$.SliceTiming[1]")
		require.NoError(t, err)
		assert.Nil(t, res.Metadata)
		assert.Equal(t, map[string]any{"RepetitionTime": 2.0, "$.SliceTiming[1]": 0.5}, res.Fields)
	})

	t.Run("unavailable field", func(t *testing.T) {
		_, err := r.Read(boldFile, "RepetitionTime", "EchoTime")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailableField)
		var ue *UnavailableFieldError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "EchoTime", ue.Field)
		assert.Equal(t, boldFile, ue.Path)
	})

	t.Run("unmatched jsonpath", func(t *testing.T) {
		_, err := r.Read(boldFile, "$.Missing.Deep")
		assert.ErrorIs(t, err, ErrUnavailableField)
	})

	t.Run("not a bids name", func(t *testing.T) {
		_, err := r.Read("/ds/func/bold.nii.gz")
		assert.ErrorIs(t, err, bids.ErrParse)
	})
}
