// Package bids decomposes BIDS filenames into their identity entities.
package bids

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/agentic-research/bidsmeta/api"
)

// ErrParse matches every *ParseError via errors.Is.
var ErrParse = errors.New("not a BIDS filename")

// ParseError reports a filename that does not start with a subject entity.
type ParseError struct {
	Name string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: missing leading sub-<label> entity", e.Name)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// entityExpr is the fixed-order grammar: each optional group is only
// recognized directly after the previous one, so gaps are allowed but
// reordering is not.
var entityExpr = regexp.MustCompile(`^sub-(?P<subject_id>[a-zA-Z0-9]+)` +
	`(?:_ses-(?P<session_id>[a-zA-Z0-9]+))?` +
	`(?:_task-(?P<task_id>[a-zA-Z0-9]+))?` +
	`(?:_acq-(?P<acq_id>[a-zA-Z0-9]+))?` +
	`(?:_rec-(?P<rec_id>[a-zA-Z0-9]+))?` +
	`(?:_run-(?P<run_id>[a-zA-Z0-9]+))?`)

// ParseEntities extracts the identity entities from a filename. Directory
// components are ignored; anything after the last recognized entity
// (suffix, extension) is ignored too.
func ParseEntities(name string) (api.Entities, error) {
	base := filepath.Base(name)
	m := entityExpr.FindStringSubmatchIndex(base)
	if m == nil {
		return api.Entities{}, &ParseError{Name: base}
	}

	group := func(field string) *string {
		i := entityExpr.SubexpIndex(field)
		if m[2*i] < 0 {
			return nil
		}
		v := base[m[2*i]:m[2*i+1]]
		return &v
	}

	return api.Entities{
		SubjectID: *group(api.FieldSubject),
		SessionID: group(api.FieldSession),
		TaskID:    group(api.FieldTask),
		AcqID:     group(api.FieldAcq),
		RecID:     group(api.FieldRec),
		RunID:     group(api.FieldRun),
	}, nil
}

// Suffix returns the trailing component of a BIDS stem, e.g. "bold" for
// "sub-01_task-rest_bold.json". Extensions are stripped first.
func Suffix(name string) string {
	stem, _ := SplitExt(filepath.Base(name))
	for i := len(stem) - 1; i >= 0; i-- {
		if stem[i] == '_' {
			return stem[i+1:]
		}
	}
	return stem
}

// SplitExt splits off a trailing extension, treating ".gz" as part of a
// compound extension (".nii.gz").
func SplitExt(path string) (stem, ext string) {
	ext = filepath.Ext(path)
	stem = path[:len(path)-len(ext)]
	if ext == ".gz" {
		inner := filepath.Ext(stem)
		stem = stem[:len(stem)-len(inner)]
		ext = inner + ext
	}
	return stem, ext
}
