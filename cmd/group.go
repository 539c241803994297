package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentic-research/bidsmeta/internal/ingest"
	"github.com/spf13/cobra"
)

func newGroupCmd(a *app) *cobra.Command {
	var (
		tsvPath  string
		modality string
	)

	c := &cobra.Command{
		Use:   "group <iqm-dir> <index.db>",
		Short: "Index a directory of IQM documents into SQLite",
		Long: `group walks a directory of IQM documents, stores one row per document in
a fresh SQLite database, and optionally exports the table as TSV. Any
existing database at the target path is replaced.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			n, err := a.group(dir, args[1], modality)
			if err != nil {
				return err
			}
			a.logger.Info("indexed IQM documents", "count", n, "db", args[1])

			if tsvPath == "" {
				return nil
			}
			return a.exportTSV(args[1], modality, tsvPath)
		},
	}
	c.Flags().StringVar(&tsvPath, "tsv", "", "also write the index as a TSV file")
	c.Flags().StringVarP(&modality, "modality", "m", "", "only index documents of this modality")
	return c
}

func (a *app) group(dir, dbPath, modality string) (int, error) {
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove stale index: %w", err)
	}

	w, err := ingest.NewSQLiteWriter(dbPath, a.cfg.Index.Table, a.cfg.Index.BatchSize)
	if err != nil {
		return 0, err
	}

	e := ingest.NewEngine(a.fs, w)
	e.Logger = a.logger
	e.Modality = modality

	n, err := e.Ingest(dir)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (a *app) exportTSV(dbPath, modality, tsvPath string) error {
	records, err := ingest.LoadSQLite(dbPath, a.cfg.Index.Table, modality)
	if err != nil {
		return err
	}

	f, err := os.Create(tsvPath)
	if err != nil {
		return err
	}
	if err := ingest.WriteTSV(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info("wrote group table", "path", tsvPath, "rows", len(records))
	return nil
}
