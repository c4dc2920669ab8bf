package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetimport/internal/application"
	"github.com/JonMunkholm/sheetimport/internal/core"
)

type fieldRow struct {
	core.FieldSummary
	Kind core.FieldKind `json:"kind"`
}

func newFieldsCommand(ctx *commandContext) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the fields of a content type and how values map to them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			app, err := application.New(cfg, nil, ctx.logger())
			if err != nil {
				return err
			}

			ct, err := app.CMS.GetContentType(cmd.Context(), strings.TrimSpace(contentType))
			if err != nil {
				return err
			}
			rules := core.RulesFromContentType(app.Importer.Mapper().Rules(), ct)

			summaries := ct.Summaries()
			rows := make([]fieldRow, 0, len(summaries))
			for _, f := range summaries {
				rows = append(rows, fieldRow{FieldSummary: f, Kind: rules.KindFor(f.ID, core.Scalar(""))})
			}

			if ctx.json() {
				return writeJSON(cmd, rows)
			}
			table := make([][]string, 0, len(rows))
			for _, r := range rows {
				table = append(table, []string{r.ID, r.Name, r.Type, string(r.Kind)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", ct.Name, ct.ID)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Name", "Type", "Kind"}, table, nil))
			return nil
		},
	}

	cmd.Flags().StringVar(&contentType, "type", "", "Content type id")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}
