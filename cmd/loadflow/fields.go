package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rpattn/loadflow/pkg/schema"
)

func newFieldsCmd(_ *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the schema field paths and their requirement tags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields := schema.Default().Fields()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(fields)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "PATH\tTAG\tTYPE")
			for _, f := range fields {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Path, f.Tag, f.Type)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
