package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetimport/internal/config"
	"github.com/JonMunkholm/sheetimport/internal/core"
	"github.com/JonMunkholm/sheetimport/internal/mappingfile"
)

type mappingReport struct {
	ContentType string         `json:"contentType,omitempty"`
	Locale      string         `json:"locale"`
	SlugField   string         `json:"slugField"`
	Fields      []mappingField `json:"fields"`
	Headers     []string       `json:"headers"`
}

type mappingField struct {
	Field    string         `json:"field"`
	Template string         `json:"template"`
	Kind     core.FieldKind `json:"kind"`
}

func newValidateMappingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-mapping FILE",
		Short: "Check a mapping file and show how each field will be written",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := validateMapping(args[0])
			if err != nil {
				return err
			}

			if ctx.json() {
				return writeJSON(cmd, report)
			}

			rows := make([][]string, 0, len(report.Fields))
			for _, f := range report.Fields {
				rows = append(rows, []string{f.Field, f.Template, string(f.Kind)})
			}
			out := cmd.OutOrStdout()
			if report.ContentType != "" {
				fmt.Fprintf(out, "Content type: %s\n", report.ContentType)
			}
			fmt.Fprintf(out, "Locale: %s  Slug field: %s\n", report.Locale, report.SlugField)
			fmt.Fprintln(out, renderTable([]string{"Field", "Template", "Kind"}, rows, nil))
			fmt.Fprintf(out, "Columns used: %s\n", strings.Join(report.Headers, ", "))
			return nil
		},
	}
}

// validateMapping resolves a mapping file against the configured import
// rules without contacting any API.
func validateMapping(path string) (*mappingReport, error) {
	var importCfg config.ImportConfig
	if err := config.LoadInto(&importCfg); err != nil {
		return nil, err
	}
	if err := importCfg.Validate(); err != nil {
		return nil, err
	}
	var locale struct {
		Locale string `env:"CONTENTFUL_LOCALE" default:"nl"`
	}
	if err := config.LoadInto(&locale); err != nil {
		return nil, err
	}

	file, err := mappingfile.Load(path)
	if err != nil {
		return nil, err
	}
	mapper := file.Mapper(importCfg.FieldRules(), locale.Locale)
	if err := mapper.CheckMapping(file.Mapping); err != nil {
		return nil, err
	}

	report := &mappingReport{
		ContentType: file.ContentType,
		Locale:      mapper.Locale(),
		SlugField:   mapper.Rules().SlugField,
		Headers:     mapper.ReferencedHeaders(file.Mapping),
	}
	for _, id := range file.Mapping.FieldIDs() {
		t := file.Mapping[id]
		template := t.Value()
		if t.IsComposite() {
			template = "[" + strings.Join(t.Parts(), ", ") + "]"
		}
		report.Fields = append(report.Fields, mappingField{
			Field:    id,
			Template: template,
			Kind:     mapper.KindOf(id, t),
		})
	}
	return report, nil
}
