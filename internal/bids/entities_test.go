package bids

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntities(t *testing.T) {
	t.Run("all six entities", func(t *testing.T) {
		e, err := ParseEntities("sub-01_ses-pre_task-rest_acq-mb4_rec-norm_run-2_bold.nii.gz")
		require.NoError(t, err)
		assert.Equal(t, "01", e.SubjectID)
		require.NotNil(t, e.SessionID)
		require.NotNil(t, e.TaskID)
		require.NotNil(t, e.AcqID)
		require.NotNil(t, e.RecID)
		require.NotNil(t, e.RunID)
		assert.Equal(t, "pre", *e.SessionID)
		assert.Equal(t, "rest", *e.TaskID)
		assert.Equal(t, "mb4", *e.AcqID)
		assert.Equal(t, "norm", *e.RecID)
		assert.Equal(t, "2", *e.RunID)

		var fields []string
		for _, ent := range e.Ordered() {
			fields = append(fields, ent.Field)
		}
		assert.Equal(t, []string{"subject_id", "session_id", "task_id", "acq_id", "rec_id", "run_id"}, fields)
	})

	t.Run("absent entities are nil", func(t *testing.T) {
		e, err := ParseEntities("sub-02_T1w.nii.gz")
		require.NoError(t, err)
		assert.Equal(t, "02", e.SubjectID)
		assert.Nil(t, e.SessionID)
		assert.Nil(t, e.TaskID)
		assert.Nil(t, e.AcqID)
		assert.Nil(t, e.RecID)
		assert.Nil(t, e.RunID)
	})

	t.Run("gaps are allowed", func(t *testing.T) {
		e, err := ParseEntities("sub-03_task-nback_run-1_bold.nii")
		require.NoError(t, err)
		assert.Nil(t, e.SessionID)
		require.NotNil(t, e.TaskID)
		assert.Equal(t, "nback", *e.TaskID)
		assert.Nil(t, e.AcqID)
		assert.Nil(t, e.RecID)
		require.NotNil(t, e.RunID)
		assert.Equal(t, "1", *e.RunID)
	})

	t.Run("out of order entity stops the match", func(t *testing.T) {
		e, err := ParseEntities("sub-04_run-1_task-rest_bold.nii.gz")
		require.NoError(t, err)
		require.NotNil(t, e.RunID)
		assert.Equal(t, "1", *e.RunID)
		assert.Nil(t, e.TaskID, "task after run is not recognized")
	})

	t.Run("directories are ignored", func(t *testing.T) {
		e, err := ParseEntities("/data/ds/sub-05/anat/sub-05_T1w.nii.gz")
		require.NoError(t, err)
		assert.Equal(t, "05", e.SubjectID)
	})

	t.Run("missing subject", func(t *testing.T) {
		_, err := ParseEntities("task-rest_bold.json")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrParse))
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "task-rest_bold.json", pe.Name)
	})

	t.Run("subject must lead", func(t *testing.T) {
		_, err := ParseEntities("ses-1_sub-01_bold.nii")
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestSplitExt(t *testing.T) {
	cases := []struct {
		in, stem, ext string
	}{
		{"sub-01_T1w.nii.gz", "sub-01_T1w", ".nii.gz"},
		{"sub-01_T1w.nii", "sub-01_T1w", ".nii"},
		{"/d/sub-01_bold.json", "/d/sub-01_bold", ".json"},
		{"noext", "noext", ""},
	}
	for _, c := range cases {
		stem, ext := SplitExt(c.in)
		assert.Equal(t, c.stem, stem, c.in)
		assert.Equal(t, c.ext, ext, c.in)
	}
}

func TestSuffix(t *testing.T) {
	assert.Equal(t, "bold", Suffix("/out/sub-01_task-rest_bold.json"))
	assert.Equal(t, "T1w", Suffix("sub-01_T1w.nii.gz"))
	assert.Equal(t, "plain", Suffix("plain.json"))
}
