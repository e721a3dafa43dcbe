package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/domain"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var stems bool
	var quality string
	cmd := &cobra.Command{
		Use:   "analyze [trackRef...]",
		Short: "Analyses tracks and caches the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rows := make([][]string, 0, len(args))
			for _, ref := range args {
				f, err := a.orchestrator.AnalyzeTrack(cmd.Context(), ref, nil)
				if err != nil {
					return fmt.Errorf("analyze %s: %w", ref, err)
				}
				row := []string{ref, formatFloat(f.BPM, 1), f.Key, formatFloat(f.Energy, 2), formatFloat(f.Clarity, 2)}
				if stems {
					s, err := a.orchestrator.SeparateStems(cmd.Context(), ref, domain.ParseStemQuality(quality))
					if err != nil {
						return fmt.Errorf("separate %s: %w", ref, err)
					}
					row = append(row, string(s.Vocals))
				}
				rows = append(rows, row)
			}

			header := []string{"Track", "BPM", "Key", "Energy", "Clarity"}
			if stems {
				header = append(header, "Vocals stem")
			}
			return renderTable(cmd.OutOrStdout(), header, rows)
		},
	}
	cmd.Flags().BoolVar(&stems, "stems", false, "also separate stems")
	cmd.Flags().StringVar(&quality, "quality", string(domain.StemQualityNormal), "stem quality: fast, normal, high or best")
	return cmd
}

func newCompatCmd(opts *rootOptions) *cobra.Command {
	var noBPM, noKey bool
	cmd := &cobra.Command{
		Use:   "compat [track1] [track2]",
		Short: "Reports tempo and key compatibility of two tracks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, ref := range args {
				if _, err := a.orchestrator.AnalyzeTrack(cmd.Context(), ref, nil); err != nil {
					return fmt.Errorf("analyze %s: %w", ref, err)
				}
			}
			settings := domain.DefaultMixSettings()
			settings.BPMMatch = !noBPM
			settings.KeyMatch = !noKey
			c, err := a.orchestrator.Compatibility(cmd.Context(), args[0], args[1], settings)
			if err != nil {
				return err
			}
			return renderCompatibility(cmd.OutOrStdout(), c)
		},
	}
	cmd.Flags().BoolVar(&noBPM, "no-bpm-match", false, "do not request tempo matching")
	cmd.Flags().BoolVar(&noKey, "no-key-match", false, "do not request key matching")
	return cmd
}

func newResolveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [track1] [track2] [prompt]",
		Short: "Resolves a mixing prompt through the provider chain",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, ref := range args[:2] {
				if _, err := a.orchestrator.AnalyzeTrack(cmd.Context(), ref, nil); err != nil {
					return fmt.Errorf("analyze %s: %w", ref, err)
				}
			}
			res, err := a.orchestrator.ResolvePrompt(cmd.Context(), args[2], args[0], args[1])
			if err != nil {
				return err
			}
			return renderResolution(cmd.OutOrStdout(), res)
		},
	}
}

func renderCompatibility(out io.Writer, c domain.Compatibility) error {
	return renderTable(out, []string{"Check", "Value"}, [][]string{
		{"Tempo ratio", formatFloat(c.TempoRatio, 4)},
		{"BPM matched", strconv.FormatBool(c.BPMMatched)},
		{"Harmonically matched", strconv.FormatBool(c.HarmonicallyMatched)},
		{"Semitone shift", strconv.Itoa(c.SemitoneShift)},
		{"Needs tempo adjustment", strconv.FormatBool(c.NeedsTempoAdjustment)},
		{"Needs key adjustment", strconv.FormatBool(c.NeedsKeyAdjustment)},
	})
}

func renderResolution(out io.Writer, res domain.PromptAnalysisResult) error {
	fmt.Fprintf(out, "Source: %s\n%s\n\n", res.Source, res.Summary)

	rows := make([][]string, 0, len(res.Instructions))
	for _, in := range res.Instructions {
		rows = append(rows, []string{string(in.Type), in.Description, formatFloat(in.Confidence, 2)})
	}
	if err := renderTable(out, []string{"Type", "Instruction", "Confidence"}, rows); err != nil {
		return err
	}

	s := res.RecommendedSettings
	return renderTable(out, []string{"Setting", "Value"}, [][]string{
		{"bpmMatch", strconv.FormatBool(s.BPMMatch)},
		{"keyMatch", strconv.FormatBool(s.KeyMatch)},
		{"vocalLevel1", formatFloat(s.VocalLevel1, 2)},
		{"vocalLevel2", formatFloat(s.VocalLevel2, 2)},
		{"beatLevel1", formatFloat(s.BeatLevel1, 2)},
		{"beatLevel2", formatFloat(s.BeatLevel2, 2)},
		{"crossfadeLength", strconv.Itoa(s.CrossfadeLength)},
		{"echo", formatFloat(s.Echo, 2)},
		{"tempo", formatFloat(s.Tempo, 2)},
	})
}

func renderTable(out io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(out)
	table.Header(header)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}

func formatFloat(v float64, prec int) string {
	return strconv.FormatFloat(v, 'f', prec, 64)
}
