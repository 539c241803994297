package sidecar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/bidsmeta/api"
	"github.com/agentic-research/bidsmeta/internal/bids"
	"github.com/ohler55/ojg/jp"
)

// Result is what reading a data file's sidecars yields: its identity and
// either the whole merged metadata or just the requested fields.
type Result struct {
	Entities api.Entities   `json:"entities"`
	Metadata api.Metadata   `json:"metadata,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// Read parses the entities of path and resolves its metadata. With no
// fields the full metadata is returned; otherwise only the named fields,
// each of which must be present. A field beginning with "$" is a JSONPath
// selector and yields its first match.
func (r *Resolver) Read(path string, fields ...string) (*Result, error) {
	entities, err := bids.ParseEntities(path)
	if err != nil {
		return nil, err
	}
	md, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}

	res := &Result{Entities: entities}
	if len(fields) == 0 {
		res.Metadata = md
		return res, nil
	}

	res.Fields = make(map[string]any, len(fields))
	for _, field := range fields {
		v, err := selectField(md, field)
		if err != nil {
			if errors.Is(err, ErrUnavailableField) {
				return nil, &UnavailableFieldError{Field: field, Path: path}
			}
			return nil, err
		}
		res.Fields[field] = v
	}
	return res, nil
}

func selectField(md api.Metadata, field string) (any, error) {
	if !strings.HasPrefix(field, "$") {
		v, ok := md[field]
		if !ok {
			return nil, &UnavailableFieldError{Field: field}
		}
		return v, nil
	}

	x, err := jp.ParseString(field)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", field, err)
	}
	results := x.Get(map[string]any(md))
	if len(results) == 0 {
		return nil, &UnavailableFieldError{Field: field}
	}
	return results[0], nil
}
