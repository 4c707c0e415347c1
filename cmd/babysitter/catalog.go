package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/catalog"
	"github.com/a5c-ai/babysitter/pkg/presenter"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Cross-check skills, agents and processes",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check [mapping-files...]",
	Short: "Check that every skill and agent reference resolves",
	Long: `Check the mapping tables (markdown tables assigning skills and agents to
processes) together with process metadata, skill frontmatter and agent profiles.
Every referenced skill and agent must exist. Without arguments the tables in the
configured catalog directories are checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		var mappings []catalog.Mapping
		if len(args) == 0 {
			mappings, err = catalog.LoadMappings(a.cfg.CatalogDirs...)
			if err != nil {
				return err
			}
		}
		for _, file := range args {
			m, err := catalog.LoadFile(file)
			if err != nil {
				return err
			}
			mappings = append(mappings, m...)
		}

		idx, err := a.catalogIndex(cmd.Context())
		if err != nil {
			return err
		}

		report := catalog.Check(mappings, idx)
		for _, w := range report.Warnings {
			presenter.Warning(w)
		}
		if report.Err() != nil {
			for _, e := range report.Errors.Errors {
				presenter.Error(e, "dangling reference")
			}
			return errors.Errorf("catalog check failed with %d errors", len(report.Errors.Errors))
		}

		presenter.Success(fmt.Sprintf("%d mappings, %d processes, %d skills and %d agents consistent",
			report.Mappings, len(idx.Processes), len(idx.Skills), len(idx.Agents)))
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogCheckCmd)
}
