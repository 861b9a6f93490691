package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-secops"
)

func (a *app) entityCmd() *cobra.Command {
	var (
		tr         timeRange
		req        secops.EntitySummaryRequest
		valueType  string
		prevalence bool
		noAlerts   bool
	)

	cmd := &cobra.Command{
		Use:   "entity <value>",
		Short: "Summarize an IP, domain, hash, hostname, email or MAC",
		Long: `Summarize an entity. The value type is detected automatically
unless --field-path or --value-type is given. Pass an empty value together
with --entity-id to look up an entity by ID.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := tr.resolve(time.Now())
			if err != nil {
				return err
			}

			if len(args) == 1 {
				req.Value = args[0]
			}
			req.StartTime, req.EndTime = start, end
			req.ValueType = secops.ValueType(valueType)
			req.ReturnPrevalence = prevalence
			if noAlerts {
				req.ReturnAlerts = secops.Bool(false)
			}

			summary, err := a.client.Entities.Summarize(cmd.Context(), &req)
			if err != nil {
				return err
			}

			return a.emit(summary, func(w io.Writer) error {
				return writeEntitySummary(w, summary)
			})
		},
	}

	tr.register(cmd)
	cmd.Flags().StringVar(&req.FieldPath, "field-path", "", "UDM field path, e.g. principal.ip")
	cmd.Flags().StringVar(&valueType, "value-type", "", "Value type, e.g. DOMAIN_NAME or HASH_SHA256")
	cmd.Flags().StringVar(&req.EntityID, "entity-id", "", "Look up by entity ID instead of value")
	cmd.Flags().StringVar(&req.EntityNamespace, "namespace", "", "Entity namespace")
	cmd.Flags().BoolVar(&prevalence, "prevalence", false, "Include prevalence data")
	cmd.Flags().BoolVar(&noAlerts, "no-alerts", false, "Skip alert counts")

	return cmd
}

func writeEntitySummary(w io.Writer, s *secops.EntitySummary) error {
	primary := s.PrimaryEntity()
	if primary == nil {
		fmt.Fprintln(w, "no entity found")
		return nil
	}

	fmt.Fprintf(w, "Entity:     %s\n", primary.Name)
	fmt.Fprintf(w, "Type:       %s\n", primary.Metadata.EntityType)
	if m := primary.Metric; m != nil {
		fmt.Fprintf(w, "First seen: %s\n", m.FirstSeen.Format(time.RFC3339))
		fmt.Fprintf(w, "Last seen:  %s\n", m.LastSeen.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Alerts:     %d\n", s.TotalAlerts())
	for _, ac := range s.AlertCounts {
		fmt.Fprintf(w, "  %-40s %d\n", ac.Rule, ac.Count)
	}
	if related := s.RelatedEntities(); len(related) > 0 {
		fmt.Fprintf(w, "Related:    %d entities\n", len(related))
	}
	return nil
}
