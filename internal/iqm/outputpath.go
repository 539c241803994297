package iqm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-research/bidsmeta/api"
)

// FileName builds the IQM document name for an image:
//
//	sub-<id>[_ses-<id>][_task-<id>][_acq-<id>][_rec-<id>][_run-<id>]_<modality>.json
//
// Each entity is prefixed by the first three characters of its field name;
// "tas" is the one prefix that is not a BIDS key and is rewritten to "task".
func FileName(ids api.Entities, modality string) string {
	var b strings.Builder
	b.WriteString("sub-" + ids.SubjectID)
	for _, e := range ids.Ordered()[1:] {
		b.WriteString("_" + e.Field[:3] + "-" + e.Value)
	}
	name := strings.ReplaceAll(b.String(), "_tas-", "_task-")
	return name + "_" + modality + ".json"
}

// OutputPath joins FileName onto dir. An empty dir falls back to the
// working directory at call time; callers should pass one explicitly.
func OutputPath(ids api.Entities, modality, dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve output directory: %w", err)
		}
		dir = wd
	}
	return filepath.Join(dir, FileName(ids, modality)), nil
}
