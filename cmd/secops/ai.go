package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-secops"
)

func (a *app) translateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "translate <text>",
		Short: "Translate natural language into a UDM query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := a.client.AI.Translate(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			return a.emit(map[string]string{"query": query}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, query)
				return err
			})
		},
	}
}

func (a *app) nlSearchCmd() *cobra.Command {
	var (
		tr        timeRange
		maxEvents int
	)

	cmd := &cobra.Command{
		Use:   "nl-search <text>",
		Short: "Search events using a natural-language description",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			result, err := a.client.AI.NLSearch(cmd.Context(), strings.Join(args, " "), &secops.SearchRequest{
				StartTime: start,
				EndTime:   end,
				MaxEvents: maxEvents,
			})
			if err != nil {
				return err
			}

			return a.emit(result, func(w io.Writer) error {
				for _, e := range result.Events {
					fmt.Fprintf(w, "%s\t%s\n", e.EventType(), e.Name())
				}
				fmt.Fprintf(w, "%d events\n", result.TotalEvents)
				return nil
			})
		},
	}

	tr.register(cmd)
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "Maximum events to return (default 10000)")

	return cmd
}

func (a *app) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask Gemini a security question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.client.AI.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			return a.emit(resp, func(w io.Writer) error {
				if text := resp.TextContent(); text != "" {
					fmt.Fprintln(w, text)
				}
				for _, block := range resp.CodeBlocks() {
					fmt.Fprintf(w, "\n%s\n", block.Content)
				}
				for _, action := range resp.SuggestedActions {
					fmt.Fprintf(w, "\n> %s\n", action.DisplayText)
				}
				return nil
			})
		},
	}
}
