// Package ingest builds the group-level index of IQM documents.
//
// The Engine walks a directory of finalized documents and hands one Record
// per document to a RecordSink, normally a SQLiteWriter. The index is
// rebuilt from scratch on every run; it is an export, not a cache.
package ingest

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/agentic-research/bidsmeta/api"
	"github.com/agentic-research/bidsmeta/internal/bids"
	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/ohler55/ojg/oj"
)

// Record is one indexed IQM document.
type Record struct {
	ID       string // path of the document
	Entities api.Entities
	Modality string
	ModTime  time.Time
	Document api.Document
}

// RecordSink receives records from the Engine.
type RecordSink interface {
	AddRecord(r Record) error
}

// Engine drives the ingestion process.
type Engine struct {
	FS     billy.Filesystem
	Store  RecordSink
	Logger *log.Logger

	// Modality restricts ingestion to one modality when set.
	Modality string
}

// NewEngine returns an Engine that reads from fs and writes to store,
// logging through the default logger.
func NewEngine(fs billy.Filesystem, store RecordSink) *Engine {
	return &Engine{
		FS:     fs,
		Store:  store,
		Logger: log.Default(),
	}
}

// Ingest processes a document or a directory tree of documents. Files that
// are not JSON or whose names are not BIDS names are skipped. It returns
// the number of records added.
func (e *Engine) Ingest(path string) (int, error) {
	info, err := e.FS.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return e.ingestFile(path, info.ModTime())
	}
	return e.walk(path)
}

func (e *Engine) walk(dir string) (int, error) {
	entries, err := e.FS.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %s: %w", dir, err)
	}
	total := 0
	for _, entry := range entries {
		p := filepath.Join(dir, entry.Name())
		var n int
		if entry.IsDir() {
			n, err = e.walk(p)
		} else {
			n, err = e.ingestFile(p, entry.ModTime())
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (e *Engine) ingestFile(path string, modTime time.Time) (int, error) {
	if filepath.Ext(path) != ".json" {
		return 0, nil
	}
	entities, err := bids.ParseEntities(path)
	if err != nil {
		e.Logger.Debug("skipping non-BIDS file", "path", path)
		return 0, nil
	}
	modality := bids.Suffix(path)
	if e.Modality != "" && modality != e.Modality {
		return 0, nil
	}

	doc, err := e.readDocument(path)
	if err != nil {
		return 0, err
	}

	rec := Record{
		ID:       path,
		Entities: entities,
		Modality: modality,
		ModTime:  modTime,
		Document: doc,
	}
	if err := e.Store.AddRecord(rec); err != nil {
		return 0, fmt.Errorf("index %s: %w", path, err)
	}
	return 1, nil
}

func (e *Engine) readDocument(path string) (api.Document, error) {
	f, err := e.FS.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	v, err := oj.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse json %s: %w", path, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("document %s is not a JSON object", path)
	}
	return api.Document(obj), nil
}
