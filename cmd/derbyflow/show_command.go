package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"derbyflow/internal/app"
	"derbyflow/internal/asset"
	"derbyflow/internal/services"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <asset-id>",
		Short: "Display an asset document and its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAssetID(args[0])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd.Context(), nil, func(a *app.App) error {
				doc, err := a.Documents.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, doc)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderDocument(doc))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw document as JSON")
	return cmd
}

func parseAssetID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, "cli", "parse id", fmt.Sprintf("Invalid asset id %q", value), err)
	}
	return id, nil
}

var stateCaser = cases.Title(language.English)

func renderDocument(doc *asset.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Asset:     %d\n", doc.ID)
	fmt.Fprintf(&b, "Location:  %s\n", doc.Location)
	fmt.Fprintf(&b, "Name:      %s.%s\n", doc.Name, doc.Extension)
	if len(doc.Size) == 2 {
		fmt.Fprintf(&b, "Size:      %dx%d\n", doc.Size[0], doc.Size[1])
	}
	fmt.Fprintf(&b, "FPS:       %s\n", strconv.FormatFloat(doc.FPS, 'f', -1, 64))
	fmt.Fprintf(&b, "Duration:  %s\n", formatSeconds(doc.Duration))
	fmt.Fprintf(&b, "Audio:     %s\n", yesNo(doc.HasAudio))
	if doc.CreationTime != "" {
		fmt.Fprintf(&b, "Created:   %s\n", doc.CreationTime)
	}
	if doc.ParentID != nil {
		fmt.Fprintf(&b, "Parent:    %d\n", *doc.ParentID)
	}
	if len(doc.ChildIDs) > 0 {
		children := make([]string, len(doc.ChildIDs))
		for i, child := range doc.ChildIDs {
			children[i] = strconv.FormatInt(child, 10)
		}
		fmt.Fprintf(&b, "Children:  %s\n", strings.Join(children, ", "))
	}
	if len(doc.ProcessSteps) == 0 {
		b.WriteString("No stages recorded\n")
		return b.String()
	}
	rows := make([][]string, 0, len(doc.ProcessSteps))
	for i, step := range doc.ProcessSteps {
		result := "-"
		if step.ResultLocation != nil {
			result = step.ResultLocation.String()
		}
		if step.Error != "" {
			result = step.Error
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), step.Stage, stateCaser.String(string(step.State)), result})
	}
	b.WriteString(renderTable([]string{"#", "Stage", "State", "Result"}, rows, []columnAlignment{alignRight}))
	b.WriteString("\n")
	return b.String()
}
