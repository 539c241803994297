// Package sidecar locates and merges the JSON sidecars that describe a BIDS
// data file.
//
// Metadata is inherited: a dataset-level sidecar applies to every matching
// file, then subject, session and finally the file's own sidecar override
// it in that order. The candidate locations are fixed by the filename and
// directory layout, so other tools in the ecosystem find the same files.
package sidecar

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/bidsmeta/api"
	"github.com/agentic-research/bidsmeta/internal/bids"
	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ohler55/ojg/oj"
)

// Chain is the ordered list of candidate sidecar paths for one data file,
// least specific first.
type Chain []string

// Resolver computes sidecar chains and merges the candidates that exist.
// It only reads from its filesystem and keeps no state between calls.
type Resolver struct {
	fs     billy.Filesystem
	logger *log.Logger
	cache  *lru.Cache[string, cachedSidecar]
}

// cachedSidecar is a cache entry, valid while the file's size and
// modification time are unchanged.
type cachedSidecar struct {
	modTime time.Time
	size    int64
	content []byte
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFilesystem reads sidecars from fs instead of the host filesystem.
// Paths handed to the resolver must be absolute within fs.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(r *Resolver) { r.fs = fs }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithCache keeps the contents of up to size sidecars in memory, so
// resolving many files of one dataset reads each shared sidecar once. A
// size below 1 disables caching.
func WithCache(size int) Option {
	return func(r *Resolver) {
		if size < 1 {
			r.cache = nil
			return
		}
		c, err := lru.New[string, cachedSidecar](size)
		if err != nil {
			return
		}
		r.cache = c
	}
}

// NewResolver returns a Resolver over the host filesystem unless
// WithFilesystem says otherwise.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.fs == nil {
		r.fs = osfs.New("/")
	}
	if r.logger == nil {
		r.logger = log.Default()
	}
	return r
}

// prefix returns the 3-character entity prefix of a filename component.
// Only these characters are inspected, so e.g. "runner-x" classifies as a
// run component.
func prefix(comp string) string {
	if len(comp) < 3 {
		return comp
	}
	return comp[:3]
}

// Chain returns the candidate sidecars for path, whether or not they exist.
func (r *Resolver) Chain(path string) (Chain, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	stem, _ := bids.SplitExt(abs)
	name := filepath.Base(stem)

	var sessionScope, subjectScope, topScope []string
	var sub, ses string
	for _, comp := range strings.Split(name, "_") {
		switch prefix(comp) {
		case "run":
			// run-specific metadata only lives in the file-level sidecar
		case "ses":
			ses = comp
			sessionScope = append(sessionScope, comp)
		case "sub":
			sub = comp
			sessionScope = append(sessionScope, comp)
			subjectScope = append(subjectScope, comp)
		default:
			sessionScope = append(sessionScope, comp)
			subjectScope = append(subjectScope, comp)
			topScope = append(topScope, comp)
		}
	}
	if sub == "" {
		return nil, &bids.ParseError{Name: filepath.Base(abs)}
	}

	levels := 2
	if ses != "" {
		levels = 3
	}
	root := filepath.Dir(abs)
	for i := 0; i < levels; i++ {
		root = filepath.Dir(root)
	}

	chain := Chain{
		filepath.Join(root, strings.Join(topScope, "_")+".json"),
		filepath.Join(root, sub, strings.Join(subjectScope, "_")+".json"),
	}
	if ses != "" {
		chain = append(chain, filepath.Join(root, sub, ses, strings.Join(sessionScope, "_")+".json"))
	}
	return append(chain, stem+".json"), nil
}

// Resolve merges every existing candidate of the chain for path. Later
// candidates overwrite earlier ones key by key. A file with no sidecars
// resolves to an empty map.
func (r *Resolver) Resolve(path string) (api.Metadata, error) {
	chain, err := r.Chain(path)
	if err != nil {
		return nil, err
	}
	return r.Merge(chain)
}

// Merge folds the existing files of chain into one map, in order.
// Merging the same chain twice yields the same result.
func (r *Resolver) Merge(chain Chain) (api.Metadata, error) {
	merged := api.Metadata{}
	for _, candidate := range chain {
		info, err := r.fs.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat sidecar %s: %w", candidate, err)
		}
		if info.IsDir() {
			continue
		}

		fields, err := r.load(candidate, info)
		if err != nil {
			return nil, err
		}
		r.logger.Debug("merged sidecar", "path", candidate, "keys", len(fields))
		maps.Copy(merged, fields)
	}
	return merged, nil
}

// load returns a freshly parsed map for path. The cache holds raw bytes,
// never parsed values, so no two results share nested objects.
func (r *Resolver) load(path string, info os.FileInfo) (map[string]any, error) {
	if r.cache != nil {
		if hit, ok := r.cache.Get(path); ok && hit.size == info.Size() && hit.modTime.Equal(info.ModTime()) {
			return parse(path, hit.content)
		}
	}

	content, err := r.read(path)
	if err != nil {
		return nil, err
	}
	fields, err := parse(path, content)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(path, cachedSidecar{modTime: info.ModTime(), size: info.Size(), content: content})
	}
	return fields, nil
}

func (r *Resolver) read(path string) ([]byte, error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sidecar %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", path, err)
	}
	return content, nil
}

func parse(path string, content []byte) (map[string]any, error) {
	v, err := oj.Parse(content)
	if err != nil {
		return nil, &MalformedError{Path: path, Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &MalformedError{Path: path, Err: errNotObject}
	}
	return obj, nil
}
