package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"derbyflow/internal/analysis"
	"derbyflow/internal/app"
	"derbyflow/internal/asset"
	"derbyflow/internal/services"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "results <bucket> <key>",
		Short: "Summarize a stored detection result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := asset.Location{Bucket: args[0], Key: args[1]}
			return ctx.withApp(cmd.Context(), nil, func(a *app.App) error {
				reader, err := a.Objects.Open(cmd.Context(), loc)
				if err != nil {
					return err
				}
				defer reader.Close()
				var result analysis.Result
				if err := json.NewDecoder(reader).Decode(&result); err != nil {
					return services.Wrap(services.ErrValidation, "cli", "decode result", "Object is not a detection result: "+loc.String(), err)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderResults(result, limit))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many frames (0 for all)")
	return cmd
}

func renderResults(result analysis.Result, limit int) string {
	var categories []string
	for _, frame := range result.Frames {
		for category := range frame.Detections {
			if !slices.Contains(categories, category) {
				categories = append(categories, category)
			}
		}
	}
	slices.Sort(categories)

	var b strings.Builder
	fmt.Fprintf(&b, "FPS: %s  Codec: %s  Frames analyzed: %d\n",
		strconv.FormatFloat(result.FPS, 'f', -1, 64), codecLabel(result.CodecCode), len(result.Frames))
	if len(result.Frames) == 0 {
		return b.String()
	}

	frames := result.Frames
	if limit > 0 && len(frames) > limit {
		frames = frames[:limit]
	}
	headers := append([]string{"Frame", "Time (ms)"}, categories...)
	aligns := make([]columnAlignment, len(headers))
	for i := range aligns {
		aligns[i] = alignRight
	}
	totals := make([]int, len(categories))
	rows := make([][]string, 0, len(frames))
	for _, frame := range frames {
		row := []string{strconv.Itoa(frame.Index), strconv.FormatFloat(frame.Timestamp, 'f', 0, 64)}
		for i, category := range categories {
			count := frame.Detections[category].Len()
			totals[i] += count
			row = append(row, strconv.Itoa(count))
		}
		rows = append(rows, row)
	}
	b.WriteString(renderTable(headers, rows, aligns))
	b.WriteString("\n")
	for i, category := range categories {
		fmt.Fprintf(&b, "%s detections: %d\n", category, totals[i])
	}
	return b.String()
}

// codecLabel renders a FOURCC code as text when it is printable.
func codecLabel(code int64) string {
	if code <= 0 {
		return "unknown"
	}
	raw := make([]byte, 0, 4)
	for i := 0; i < 4; i++ {
		c := byte(code >> (8 * i))
		if c < 0x20 || c > 0x7e {
			return "0x" + strconv.FormatInt(code, 16)
		}
		raw = append(raw, c)
	}
	return strings.TrimSpace(string(raw))
}
