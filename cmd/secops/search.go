package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-secops"
)

func (a *app) searchCmd() *cobra.Command {
	var (
		tr            timeRange
		maxEvents     int
		caseSensitive bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a UDM search and print matching events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			result, err := a.client.Search.Events(cmd.Context(), &secops.SearchRequest{
				Query:         args[0],
				StartTime:     start,
				EndTime:       end,
				MaxEvents:     maxEvents,
				CaseSensitive: caseSensitive,
			})
			if err != nil {
				return err
			}

			return a.emit(result, func(w io.Writer) error {
				for _, e := range result.Events {
					fmt.Fprintf(w, "%s\t%s\n", e.EventType(), e.Name())
				}
				fmt.Fprintf(w, "%d events", result.TotalEvents)
				if result.MoreDataAvailable {
					fmt.Fprint(w, " (more available)")
				}
				fmt.Fprintln(w)
				return nil
			})
		},
	}

	tr.register(cmd)
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "Maximum events to return (default 10000)")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "Match the query case-sensitively")

	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	var (
		tr        timeRange
		maxValues int
		maxEvents int
	)

	cmd := &cobra.Command{
		Use:   "stats <query>",
		Short: "Run a UDM stats query and print the result table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			result, err := a.client.Search.Stats(cmd.Context(), &secops.SearchRequest{
				Query:     args[0],
				StartTime: start,
				EndTime:   end,
				MaxValues: maxValues,
				MaxEvents: maxEvents,
			})
			if err != nil {
				return err
			}

			return a.emit(result, func(w io.Writer) error {
				return writeStatsTable(w, result)
			})
		},
	}

	tr.register(cmd)
	cmd.Flags().IntVar(&maxValues, "max-values", 0, "Maximum distinct values per field (default 60)")
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "Maximum events scanned (default 10000)")

	return cmd
}

// writeStatsTable renders rows as tab-aligned columns. Missing values print as "-".
func writeStatsTable(w io.Writer, result *secops.StatsResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(result.Columns, "\t"))
	for _, row := range result.Rows {
		cells := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			if v := row[col]; v != nil {
				cells[i] = fmt.Sprint(v)
			} else {
				cells[i] = "-"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func (a *app) csvCmd() *cobra.Command {
	var (
		tr            timeRange
		fields        []string
		caseSensitive bool
	)

	cmd := &cobra.Command{
		Use:   "csv <query>",
		Short: "Export UDM search results as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			csv, err := a.client.Search.CSV(cmd.Context(), &secops.CSVRequest{
				Query:         args[0],
				StartTime:     start,
				EndTime:       end,
				Fields:        fields,
				CaseSensitive: caseSensitive,
			})
			if err != nil {
				return err
			}

			_, err = io.WriteString(a.out, csv)
			return err
		},
	}

	tr.register(cmd)
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "UDM fields to export (comma separated)")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "Match the query case-sensitively")
	_ = cmd.MarkFlagRequired("fields")

	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <query>",
		Short: "Check a UDM query for syntax errors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.client.Search.ValidateQuery(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.emit(v, func(w io.Writer) error {
				if v.Valid() {
					fmt.Fprintf(w, "valid (%s)\n", v.QueryType)
					return nil
				}
				msg := v.ErrorText
				if msg == "" {
					msg = v.ValidationMessage
				}
				fmt.Fprintf(w, "invalid: %s\n", msg)
				return nil
			})
		},
	}
}

func (a *app) iocsCmd() *cobra.Command {
	var (
		tr          timeRange
		maxMatches  int
		prioritized bool
		noMandiant  bool
	)

	cmd := &cobra.Command{
		Use:   "iocs",
		Short: "List IoCs matched in the instance's telemetry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			result, err := a.client.Search.IOCs(cmd.Context(), &secops.IOCRequest{
				StartTime:              start,
				EndTime:                end,
				MaxMatches:             maxMatches,
				PrioritizedOnly:        prioritized,
				OmitMandiantAttributes: noMandiant,
			})
			if err != nil {
				return err
			}

			return a.emit(result, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				for _, m := range result.Matches {
					for kind, value := range m.ArtifactIndicator {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", kind, value, strings.Join(m.Sources, ","))
					}
				}
				return tw.Flush()
			})
		},
	}

	tr.register(cmd)
	cmd.Flags().IntVar(&maxMatches, "max-matches", 0, "Maximum matches to return (default 1000)")
	cmd.Flags().BoolVar(&prioritized, "prioritized", false, "Only return prioritized IoCs")
	cmd.Flags().BoolVar(&noMandiant, "omit-mandiant", false, "Drop Mandiant enrichment attributes")

	return cmd
}
