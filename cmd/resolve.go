package cmd

import (
	"path/filepath"

	"github.com/agentic-research/bidsmeta/internal/sidecar"
	"github.com/spf13/cobra"
)

func newResolveCmd(a *app) *cobra.Command {
	var fields []string

	c := &cobra.Command{
		Use:   "resolve <data-file>...",
		Short: "Print the entities and merged sidecar metadata of data files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := sidecar.NewResolver(
				sidecar.WithFilesystem(a.fs),
				sidecar.WithLogger(a.logger),
				sidecar.WithCache(a.cfg.Resolver.CacheSize),
			)
			for _, arg := range args {
				path, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				res, err := r.Read(path, fields...)
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			}
			return nil
		},
	}
	c.Flags().StringArrayVarP(&fields, "field", "f", nil, "only return this metadata field (repeatable; $-prefixed values are JSONPath)")
	return c
}
