package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/agentic-research/bidsmeta/api"
	"github.com/agentic-research/bidsmeta/internal/bids"
	"github.com/agentic-research/bidsmeta/internal/iqm"
	"github.com/agentic-research/bidsmeta/internal/sidecar"
	"github.com/agentic-research/bidsmeta/internal/writeback"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

// metadataField receives the resolved sidecar metadata of --from.
const metadataField = "bids_meta"

type sinkOptions struct {
	modality string
	subject  string
	session  string
	task     string
	acq      string
	rec      string
	run      string
	sets     []string
	roots    []string
	seed     string
	from     string
}

func newSinkCmd(a *app) *cobra.Command {
	var o sinkOptions

	c := &cobra.Command{
		Use:   "sink",
		Short: "Assemble one IQM document and write it to the output directory",
		Long: `sink collects named values into one IQM document and writes it as
<out-dir>/sub-<id>[_ses-<id>][_task-<id>][_acq-<id>][_rec-<id>][_run-<id>]_<modality>.json.

Values given with --set are parsed as JSON, falling back to a plain string.
Dotted names nest ("qi.snr=5" gives {"qi": {"snr": 5}}). Each --root file
must hold a JSON object whose keys are merged into the top level.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := a.sink(o)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}

	f := c.Flags()
	f.StringVarP(&o.modality, "modality", "m", "", "image modality, e.g. T1w or bold")
	f.StringVar(&o.subject, "subject", "", "subject label")
	f.StringVar(&o.session, "session", "", "session label")
	f.StringVar(&o.task, "task", "", "task label")
	f.StringVar(&o.acq, "acq", "", "acquisition label")
	f.StringVar(&o.rec, "rec", "", "reconstruction label")
	f.StringVar(&o.run, "run", "", "run label")
	f.StringArrayVar(&o.sets, "set", nil, "name=value to record (repeatable)")
	f.StringArrayVar(&o.roots, "root", nil, "JSON file merged into the document root (repeatable)")
	f.StringVar(&o.seed, "seed", "", "JSON object file the document starts from")
	f.StringVar(&o.from, "from", "", "data file whose entities and sidecar metadata seed the record")
	_ = c.MarkFlagRequired("modality")
	return c
}

func (a *app) sink(o sinkOptions) (string, error) {
	ids, err := a.identity(o)
	if err != nil {
		return "", err
	}

	agg := iqm.New(iqm.WithOutputDir(a.cfg.OutDir), iqm.WithLogger(a.logger))

	if o.from != "" {
		from, err := filepath.Abs(o.from)
		if err != nil {
			return "", err
		}
		r := sidecar.NewResolver(sidecar.WithFilesystem(a.fs), sidecar.WithLogger(a.logger))
		md, err := r.Resolve(from)
		if err != nil {
			return "", err
		}
		agg.Set(metadataField, map[string]any(md))
	}

	for _, kv := range o.sets {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return "", fmt.Errorf("invalid --set %q: want name=value", kv)
		}
		agg.Set(name, parseValue(raw))
	}

	for i, p := range o.roots {
		v, err := a.readJSON(p)
		if err != nil {
			return "", err
		}
		agg.Set(fmt.Sprintf("root%d", i), v)
	}

	var seed api.Document
	if o.seed != "" {
		v, err := a.readJSON(o.seed)
		if err != nil {
			return "", err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("seed %s is not a JSON object", o.seed)
		}
		seed = obj
	}

	doc, path, err := agg.Finalize(ids, o.modality, seed)
	if err != nil {
		return "", err
	}
	if err := writeback.WriteDocument(a.fs, path, doc); err != nil {
		return "", err
	}
	a.logger.Info("wrote IQM document", "path", path, "fields", len(doc))
	return path, nil
}

// identity takes entities from --from when given; explicit flags override
// them one by one.
func (a *app) identity(o sinkOptions) (api.Entities, error) {
	var ids api.Entities
	if o.from != "" {
		parsed, err := bids.ParseEntities(o.from)
		if err != nil {
			return ids, err
		}
		ids = parsed
	}
	if o.subject != "" {
		ids.SubjectID = o.subject
	}
	for _, f := range []struct {
		dst **string
		val string
	}{
		{&ids.SessionID, o.session},
		{&ids.TaskID, o.task},
		{&ids.AcqID, o.acq},
		{&ids.RecID, o.rec},
		{&ids.RunID, o.run},
	} {
		if f.val != "" {
			*f.dst = api.Label(f.val)
		}
	}
	if ids.SubjectID == "" {
		return ids, fmt.Errorf("--subject or --from is required")
	}
	return ids, nil
}

func (a *app) readJSON(path string) (any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	f, err := a.fs.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	v, err := oj.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

// parseValue reads raw as JSON when it is valid JSON, and as a plain
// string otherwise.
func parseValue(raw string) any {
	v, err := oj.ParseString(raw)
	if err != nil {
		return raw
	}
	return v
}
