package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"call_analyzer/internal/app"
	"call_analyzer/internal/config"
	"call_analyzer/internal/scripts"
)

var scriptsCmd = &cobra.Command{
	Use:   "scripts [name]",
	Short: "Print the script catalog, or one script by name",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, closer, err := setup()
		if err != nil {
			return err
		}
		defer closer.Close()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		return runScripts(cfg, name, cmd.OutOrStdout())
	},
}

func runScripts(cfg config.Config, name string, out io.Writer) error {
	catalog, err := app.LoadCatalog(cfg)
	if err != nil {
		return err
	}
	list := catalog.Scripts()
	if name != "" {
		s, ok := catalog.Lookup(name)
		if !ok {
			return fmt.Errorf("script %q not found among %d", name, catalog.Len())
		}
		list = []scripts.Script{s}
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(struct {
		Scripts []scripts.Script `yaml:"scripts"`
	}{list})
}
