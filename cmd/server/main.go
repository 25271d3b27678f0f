// Command server runs the master-data catalog service and its schema tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	dslDir     string
	enumsDir   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mdcatalog <command>",
		Short:         "ERP master-data catalog service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./config.yaml, ./config/config.yaml, /etc/mdcatalog/config.yaml)")
	root.PersistentFlags().StringVar(&opts.dslDir, "dsl-dir", "", "directory of .dsl entity declarations (default: embedded)")
	root.PersistentFlags().StringVar(&opts.enumsDir, "enums-dir", "", "directory of enum catalog YAML files (default: embedded)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newKindsCmd(opts))
	root.AddCommand(newDDLCmd(opts))
	root.AddCommand(newLintCmd(opts))
	return root
}
