package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/ingestion"
	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/internal/pipeline"
)

type runFlags struct {
	file         string
	mappingFile  string
	mappingName  string
	mode         string
	brokerageKey string
	headerRow    int
	skipSubmit   bool
	enrich       bool
	dryRun       bool
	persist      bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one load file through the pipeline and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.file, "file", "", "load file (.csv, .xlsx or .json)")
	cmd.Flags().StringVar(&f.mappingFile, "mapping", "", "mapping file (YAML or JSON); suggested when omitted")
	cmd.Flags().StringVar(&f.mappingName, "mapping-name", "", "saved mapping to use (requires --persist)")
	cmd.Flags().StringVar(&f.mode, "mode", string(domain.ModeEndToEnd), "endtoend or postback")
	cmd.Flags().StringVar(&f.brokerageKey, "brokerage-key", "", "brokerage key (defaults to api.brokerage_key)")
	cmd.Flags().IntVar(&f.headerRow, "header-row", -1, "zero-based header row; detected when negative")
	cmd.Flags().BoolVar(&f.skipSubmit, "skip-submit", false, "skip load submission")
	cmd.Flags().BoolVar(&f.enrich, "enrich", false, "enrich rows from the warehouse")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "map and validate only")
	cmd.Flags().BoolVar(&f.persist, "persist", false, "record the run in the database")
	_ = cmd.MarkFlagRequired("file")
	cmd.MarkFlagsMutuallyExclusive("mapping", "mapping-name")

	return cmd
}

func (a *app) run(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)

	if f.mappingName != "" && !f.persist {
		return fmt.Errorf("%w: --mapping-name requires --persist", apperr.ErrConfig)
	}

	table, err := readTable(f.file, f.headerRow, a.cfg.Upload.MaxBytes)
	if err != nil {
		return err
	}

	enrich := f.enrich || a.cfg.Enrichment.Enabled
	st, err := buildStack(ctx, a.cfg, stackOptions{persist: f.persist, enrich: enrich && !f.dryRun})
	if err != nil {
		return err
	}
	defer st.Close()

	brokerageKey := f.brokerageKey
	if brokerageKey == "" {
		brokerageKey = a.cfg.API.BrokerageKey
	}

	var mapping ingestion.Mapping
	switch {
	case f.mappingFile != "":
		mapping, err = readMappingFile(f.mappingFile)
		if err != nil {
			return err
		}
	case f.mappingName != "":
		saved, err := st.mappings.Get(ctx, domain.NormalizeBrokerageKey(brokerageKey), f.mappingName)
		if err != nil {
			return fmt.Errorf("failed to load mapping %q: %w", f.mappingName, err)
		}
		mapping = saved.Mapping
	default:
		var suggestions []ingestion.Suggestion
		mapping, suggestions = ingestion.SuggestMapping(st.service.Registry(), table.Columns)
		log.Info("using suggested mapping", "fields", len(mapping))
		for _, s := range suggestions {
			log.Debug("suggested", "path", s.Path, "column", s.Column, "match", s.Match)
		}
	}

	res, runErr := st.service.Run(ctx, pipeline.Request{
		FileName:     filepath.Base(f.file),
		Table:        &table,
		Mapping:      mapping,
		Mode:         domain.Mode(f.mode),
		BrokerageKey: brokerageKey,
		SkipSubmit:   f.skipSubmit,
		Enrich:       enrich,
		DryRun:       f.dryRun,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	if runErr != nil {
		log.Error("run failed", "kind", apperr.Kind(runErr), "error", runErr)
	}
	return runErr
}

func readTable(file string, headerRow int, maxBytes int64) (ingestion.Table, error) {
	fh, err := os.Open(file)
	if err != nil {
		return ingestion.Table{}, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer func() { _ = fh.Close() }()

	req := ingestion.ParseRequest{FileName: file, Data: fh, MaxBytes: maxBytes}
	if headerRow >= 0 {
		req.HeaderRowIndex = &headerRow
	}
	return ingestion.Parse(req)
}

// readMappingFile accepts YAML or JSON; JSON is valid YAML.
func readMappingFile(file string) (ingestion.Mapping, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	var mapping ingestion.Mapping
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("%w: invalid mapping file %s: %v", apperr.ErrMapping, file, err)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("%w: mapping file %s is empty", apperr.ErrMapping, file)
	}
	return mapping, nil
}
