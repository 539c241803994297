// Package iqm assembles image quality metric records.
//
// An Aggregator collects named values for one image as they are produced,
// then Finalize folds them into a single JSON document together with the
// image's identity entities and picks the document's output path.
//
// Names are free-form with two conventions:
//   - a dotted name ("qi.snr") becomes a nested object ({"qi": {"snr": v}});
//   - a name matching root<digits> ("root0") must hold an object whose keys
//     are spliced into the top level of the document.
//
// An Aggregator belongs to a single record and is not safe for concurrent use.
package iqm

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/agentic-research/bidsmeta/api"
	"github.com/charmbracelet/log"
)

// CategoryField holds the QC category derived from the modality.
const CategoryField = "qc_type"

// sentinelField is registered by upstream interface layers when a field is
// declared; it never carries a metric.
const sentinelField = "trait_added"

var rootMergeExpr = regexp.MustCompile(`^root[0-9]+$`)

// categories maps modalities to QC categories. Modalities not listed get
// no category field.
var categories = map[string]string{
	"bold": "func",
	"T1w":  "anat",
}

var (
	ErrMissingSubject  = errors.New("subject_id is required")
	ErrMissingModality = errors.New("modality is required")
)

// Aggregator accumulates the values of one IQM record.
type Aggregator struct {
	values   map[string]any
	order    []string        // insertion order of every known name
	declared map[string]bool // names registered up front via WithFields
	outDir   string
	logger   *log.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithFields declares fields up front. Declared fields that are never Set
// are left out of the document.
func WithFields(names ...string) Option {
	return func(a *Aggregator) {
		for _, n := range names {
			a.Declare(n)
		}
	}
}

// WithOutputDir sets the directory of the synthesized output path.
func WithOutputDir(dir string) Option {
	return func(a *Aggregator) { a.outDir = dir }
}

// WithLogger sets the logger that receives discarded-value warnings.
func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New returns an empty Aggregator. Without WithLogger, warnings go to the
// default charmbracelet logger.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		values:   make(map[string]any),
		declared: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = log.Default()
	}
	return a
}

// Declare registers name without giving it a value.
func (a *Aggregator) Declare(name string) {
	if a.declared[name] {
		return
	}
	a.declared[name] = true
	if !slices.Contains(a.order, name) {
		a.order = append(a.order, name)
	}
}

// Declared returns the declared field names in declaration order.
func (a *Aggregator) Declared() []string {
	var out []string
	for _, n := range a.order {
		if a.declared[n] {
			out = append(out, n)
		}
	}
	return out
}

// Set records value under name. The last write for a name wins; its
// position in the insertion order is that of the first write.
func (a *Aggregator) Set(name string, value any) {
	if _, ok := a.values[name]; !ok && !slices.Contains(a.order, name) {
		a.order = append(a.order, name)
	}
	a.values[name] = value
}

// Value returns the value recorded under name.
func (a *Aggregator) Value(name string) (any, bool) {
	v, ok := a.values[name]
	return v, ok
}

// Finalize builds the document and its output path. It does not modify the
// aggregator or seed, so it may be called repeatedly.
//
// Precedence, lowest first: seed, plain and dotted values in insertion
// order, root<digits> objects in insertion order, identity entities, and
// the category field. Two dotted names sharing a first component do not
// deep-merge: the one inserted later replaces the whole subtree. Identity
// names whose entity is undefined are removed, whatever set them.
func (a *Aggregator) Finalize(ids api.Entities, modality string, seed api.Document) (api.Document, string, error) {
	if ids.SubjectID == "" {
		return nil, "", ErrMissingSubject
	}
	if modality == "" {
		return nil, "", ErrMissingModality
	}

	doc := api.Document{}
	if seed != nil {
		doc = maps.Clone(seed)
	}

	var rootKeys []string
	for _, name := range a.order {
		val, ok := a.values[name]
		if !ok || name == sentinelField {
			continue
		}
		if rootMergeExpr.MatchString(name) {
			rootKeys = append(rootKeys, name)
			continue
		}
		key, nested := expand(name, val)
		doc[key] = nested
	}

	for _, name := range rootKeys {
		val := a.values[name]
		obj, ok := asObject(val)
		if !ok {
			a.logger.Warn("root merge value is not an object, discarding", "key", name, "value", fmt.Sprint(val))
			continue
		}
		maps.Copy(doc, obj)
	}

	// Identity fields mirror the entities exactly; a name with no entity
	// behind it is dropped wherever it came from.
	for _, f := range api.EntityFields {
		delete(doc, f)
	}
	for _, e := range ids.Ordered() {
		doc[e.Field] = e.Value
	}

	if category, ok := categories[modality]; ok {
		doc[CategoryField] = category
	}

	path, err := OutputPath(ids, modality, a.outDir)
	if err != nil {
		return nil, "", err
	}
	return doc, path, nil
}

// asObject accepts any map with string keys, so typed metric maps such as
// map[string]float64 splice in as well as decoded JSON objects.
func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case api.Document:
		return o, true
	case api.Metadata:
		return o, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// expand turns "a.b.c" into ("a", {"b": {"c": val}}).
func expand(name string, val any) (string, any) {
	if !strings.Contains(name, ".") {
		return name, val
	}
	parts := strings.Split(name, ".")
	for i := len(parts) - 1; i > 0; i-- {
		val = map[string]any{parts[i]: val}
	}
	return parts[0], val
}
