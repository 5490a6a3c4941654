package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
)

const (
	formatTable = "table"
	formatTSV   = "tsv"
	formatJSON  = "json"
)

type analyzeFlags struct {
	foldChange  float64
	pValue      float64
	log2        bool
	equalVar    bool
	zscore      bool
	heatmapRows int
	format      string
	limit       int
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "degcli",
		Short:        "Differential expression from the command line",
		SilenceUsage: true,
	}
	root.AddCommand(newAnalyzeCmd())
	return root
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Compare control and condition samples in a CSV, TSV or XLSX table",
		Long: `Compare control and condition samples in an expression table.

Examples:
  degcli analyze counts.csv                      # Ranked table of all genes
  degcli analyze counts.tsv --log2 --format tsv  # Values already log2-transformed
  degcli analyze counts.xlsx --format json       # Full results with plot data`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], f)
		},
	}

	d := deg.DefaultThresholds()
	cmd.Flags().Float64Var(&f.foldChange, "fold-change", d.FoldChange, "Minimum |log2 fold change| for up/down calls")
	cmd.Flags().Float64Var(&f.pValue, "p-value", d.PValue, "Maximum adjusted p-value for up/down calls")
	cmd.Flags().BoolVar(&f.log2, "log2", false, "Values are already log2-transformed")
	cmd.Flags().BoolVar(&f.equalVar, "equal-var", false, "Use Student's t-test instead of Welch's")
	cmd.Flags().BoolVar(&f.zscore, "zscore", false, "Z-score heatmap rows (json output)")
	cmd.Flags().IntVar(&f.heatmapRows, "heatmap-rows", 50, "Heatmap genes in json output, 0 for all")
	cmd.Flags().StringVarP(&f.format, "format", "f", formatTable, "Output format: table, tsv, json")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Ranked genes to print, 0 for all (table and tsv)")
	return cmd
}

func runAnalyze(stdout, stderr io.Writer, path string, f analyzeFlags) error {
	switch f.format {
	case formatTable, formatTSV, formatJSON:
	default:
		return fmt.Errorf("unknown format %q (use table, tsv or json)", f.format)
	}

	opts := deg.Options{
		Thresholds:    deg.Thresholds{FoldChange: f.foldChange, PValue: f.pValue},
		EqualVariance: f.equalVar,
		Heatmap:       deg.HeatmapOptions{ZScore: f.zscore, MaxRows: f.heatmapRows},
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return err
	}

	ds, err := readTable(path, expression.Options{Log2Scale: f.log2})
	if err != nil {
		return err
	}
	res, err := deg.Analyze(ds, opts)
	if err != nil {
		return err
	}

	for _, d := range res.Diagnostics {
		fmt.Fprintf(stderr, "%s: line %d %s: %s\n", d.Kind, d.Line, d.Gene, d.Reason)
	}

	switch f.format {
	case formatJSON:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case formatTSV:
		return writeTSV(stdout, head(res.Ranked, f.limit))
	default:
		if err := writeTable(stdout, head(res.Ranked, f.limit)); err != nil {
			return err
		}
		c := res.Counts()
		fmt.Fprintf(stdout, "\n%d up, %d down, %d not significant, %d skipped (%s t-test)\n",
			c.Up, c.Down, c.NotSignificant, c.Skipped, res.Test)
		return nil
	}
}

func readTable(path string, opts expression.Options) (*expression.Dataset, error) {
	format, err := expression.FormatFromName(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table: %w", err)
	}
	defer file.Close()

	ds, err := expression.Parse(file, format, opts)
	if err != nil {
		return nil, err
	}
	ds.Name = filepath.Base(path)
	return ds, nil
}

var columns = []string{"gene", "mean_control", "mean_condition", "log2fc", "p_value", "adj_p_value", "label"}

func fields(s deg.GeneStat) []string {
	g := func(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }
	return []string{s.Gene, g(s.MeanControl), g(s.MeanCondition), g(s.Log2FC), g(s.PValue), g(s.AdjPValue), string(s.Label)}
}

func writeTSV(w io.Writer, stats []deg.GeneStat) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(columns); err != nil {
		return err
	}
	for _, s := range stats {
		if err := cw.Write(fields(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeTable(w io.Writer, stats []deg.GeneStat) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(cells []string) {
		for i, c := range cells {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
	}
	row(columns)
	for _, s := range stats {
		row(fields(s))
	}
	return tw.Flush()
}

func head(stats []deg.GeneStat, n int) []deg.GeneStat {
	if n > 0 && len(stats) > n {
		return stats[:n]
	}
	return stats
}
