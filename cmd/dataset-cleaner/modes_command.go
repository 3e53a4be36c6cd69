package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-dataset-cleaner/pkg/pipeline"
	"github.com/tendant/simple-dataset-cleaner/pkg/runner"
)

func newModesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the quality modes and their thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), renderPresets(runner.Presets()))
			return nil
		},
	}
}

func renderPresets(presets []runner.Preset) string {
	rows := make([][]string, 0, len(presets))
	for _, p := range presets {
		blur, brightness := "-", "-"
		if p.Mode != pipeline.ModeCustom {
			blur = fmt.Sprintf("%.0f", p.BlurThreshold)
			brightness = fmt.Sprintf("%.0f-%.0f", p.MinBrightness, p.MaxBrightness)
		}
		rows = append(rows, []string{string(p.Mode), blur, brightness, p.ExpectedRetention, p.Description})
	}
	return renderTable(
		[]string{"Mode", "Blur threshold", "Brightness", "Retention", "Description"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	)
}
