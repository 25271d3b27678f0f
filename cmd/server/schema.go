package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mdcatalog/internal/masterdata"
	"mdcatalog/internal/store/sqlstore"
)

func (o *rootOptions) loadCatalog() (*masterdata.Catalog, error) {
	if o.dslDir == "" && o.enumsDir == "" {
		return masterdata.Load()
	}
	return masterdata.LoadDir(o.dslDir, o.enumsDir)
}

func newKindsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "kinds",
		Short: "List entity kinds in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			if asJSON {
				kinds := make([]any, 0, cat.Registry.Len())
				for _, name := range cat.Registry.ListKinds() {
					k, _ := cat.Registry.Describe(name)
					kinds = append(kinds, k)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(kinds)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tMODULE\tFIELDS\tREFERENCES")
			for _, name := range cat.Registry.ListKinds() {
				k, _ := cat.Registry.Describe(name)
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", k.Name, k.Module, len(k.Fields), len(k.ForeignKeys))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full kind descriptors as JSON")
	return cmd
}

func newDDLCmd(opts *rootOptions) *cobra.Command {
	var dialect string
	cmd := &cobra.Command{
		Use:   "ddl",
		Short: "Print the SQL schema for every kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := sqlstore.DialectFor(dialect)
			if err != nil {
				return err
			}
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			stmts, err := sqlstore.GenerateDDL(cat.Registry, d)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), sqlstore.Script(stmts))
			return err
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "postgres", "SQL dialect (postgres|sqlite)")
	return cmd
}

func newLintCmd(opts *rootOptions) *cobra.Command {
	var failOnIssues bool
	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Report non-fatal schema issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := opts.loadCatalog()
			if err != nil {
				return err
			}
			issues := cat.Registry.Lint()
			out := cmd.OutOrStdout()
			if len(issues) == 0 {
				fmt.Fprintln(out, "no issues")
				return nil
			}
			for _, is := range issues {
				fmt.Fprintf(out, "%s.%s: %s: %s\n", is.Kind, is.Field, is.Code, is.Message)
			}
			if failOnIssues {
				return fmt.Errorf("%d schema issue(s)", len(issues))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnIssues, "strict", false, "exit non-zero when issues are found")
	return cmd
}
