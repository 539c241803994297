// Package cmd implements the bidsmeta command line.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/bidsmeta/internal/config"
	"github.com/charmbracelet/log"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *log.Logger
	fs      billy.Filesystem
}

func newRootCmd() *cobra.Command {
	a := &app{
		v:  viper.New(),
		fs: osfs.New("/"),
	}

	root := &cobra.Command{
		Use:   "bidsmeta",
		Short: "Resolve BIDS sidecar metadata and assemble IQM records",
		Long: `bidsmeta resolves the JSON sidecar metadata of BIDS data files through
the dataset > subject > session > file inheritance chain, and assembles
per-image quality metric (IQM) documents named after the image's entities.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.init,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./"+config.ConfigFileName+" if present)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("out-dir", "", "directory for IQM documents")
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("out_dir", flags.Lookup("out-dir"))

	root.AddCommand(newResolveCmd(a), newSinkCmd(a), newGroupCmd(a))
	return root
}

func (a *app) init(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFilePath: a.cfgFile, Viper: a.v})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Prefix: config.AppName,
		Level:  cfg.Level(),
	})
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
