package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/loadflow/internal/ingestion"
	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/pkg/schema"
)

func newSuggestCmd(a *app) *cobra.Command {
	var (
		file      string
		headerRow int
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Print a suggested column mapping for a load file as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.FromContext(cmd.Context())

			table, err := readTable(file, headerRow, a.cfg.Upload.MaxBytes)
			if err != nil {
				return err
			}

			reg := schema.Default()
			mapping, suggestions := ingestion.SuggestMapping(reg, table.Columns)
			for _, s := range suggestions {
				log.Debug("suggested", "path", s.Path, "column", s.Column, "match", s.Match)
			}
			if missing := ingestion.NewMapper(reg).UnmappedRequired(mapping); len(missing) > 0 {
				log.Warn("required fields left unmapped", "count", len(missing), "paths", missing)
			}

			out, err := yaml.Marshal(mapping)
			if err != nil {
				return fmt.Errorf("failed to encode mapping: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "load file (.csv, .xlsx or .json)")
	cmd.Flags().IntVar(&headerRow, "header-row", -1, "zero-based header row; detected when negative")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
