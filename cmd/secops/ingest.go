package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-secops"
)

// readInput reads a file, or stdin when path is "-".
func (a *app) readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (a *app) ingestLogCmd() *cobra.Command {
	var (
		logType     string
		file        string
		forwarderID string
		perLine     bool
	)

	cmd := &cobra.Command{
		Use:   "ingest-log",
		Short: "Ingest raw logs for a log type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.readInput(cmd, file)
			if err != nil {
				return err
			}

			messages := [][]byte{data}
			if perLine {
				messages = splitLines(data)
			}
			if len(messages) == 0 {
				return errors.New("no log lines to ingest")
			}

			var ops []string
			for i, msg := range messages {
				res, err := a.client.Ingest.Log(cmd.Context(), &secops.LogIngestRequest{
					LogType:     logType,
					Message:     msg,
					ForwarderID: forwarderID,
				})
				if err != nil {
					return fmt.Errorf("log %d: %w", i+1, err)
				}
				if res.Operation != "" {
					ops = append(ops, res.Operation)
				}
			}

			summary := map[string]any{"logType": logType, "ingested": len(messages), "operations": ops}
			return a.emit(summary, func(w io.Writer) error {
				fmt.Fprintf(w, "ingested %d %s log(s)\n", len(messages), logType)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&logType, "log-type", "", "Log type, e.g. OKTA or WINEVTLOG")
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Log file to read (- for stdin)")
	cmd.Flags().StringVar(&forwarderID, "forwarder-id", "", "Forwarder ID (default: the SDK forwarder)")
	cmd.Flags().BoolVar(&perLine, "lines", false, "Ingest each non-empty line as a separate log")
	_ = cmd.MarkFlagRequired("log-type")

	return cmd
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
	}
	return lines
}

func (a *app) ingestUDMCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest-udm",
		Short: "Ingest UDM events from a JSON object or array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.readInput(cmd, file)
			if err != nil {
				return err
			}

			events, err := decodeUDMEvents(data)
			if err != nil {
				return err
			}

			res, err := a.client.Ingest.UDM(cmd.Context(), events)
			if err != nil {
				return err
			}

			return a.emit(map[string]any{"eventIds": res.EventIDs, "operation": res.Operation}, func(w io.Writer) error {
				for _, id := range res.EventIDs {
					fmt.Fprintln(w, id)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON file to read (- for stdin)")

	return cmd
}

// decodeUDMEvents accepts a single event object or an array of them.
func decodeUDMEvents(data []byte) ([]secops.UDMEvent, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("no UDM events in input")
	}

	if trimmed[0] == '[' {
		var events []secops.UDMEvent
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decoding UDM events: %w", err)
		}
		return events, nil
	}

	var event secops.UDMEvent
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, fmt.Errorf("decoding UDM event: %w", err)
	}
	return []secops.UDMEvent{event}, nil
}

func (a *app) logTypesCmd() *cobra.Command {
	var (
		filter string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "log-types",
		Short: "List the log types the instance can ingest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seq := a.client.Ingest.LogTypes(cmd.Context())
			if filter != "" {
				needle := strings.ToLower(filter)
				seq = secops.Filter(seq, func(lt *secops.LogType) bool {
					return strings.Contains(strings.ToLower(lt.ID()), needle) ||
						strings.Contains(strings.ToLower(lt.DisplayName), needle)
				})
			}
			if limit > 0 {
				seq = secops.Take(seq, limit)
			}

			logTypes, err := secops.Collect(seq)
			if err != nil {
				return err
			}

			return a.emit(logTypes, func(w io.Writer) error {
				for _, lt := range logTypes {
					fmt.Fprintf(w, "%-32s %s\n", lt.ID(), lt.DisplayName)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only show log types containing this text")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum log types to list")

	return cmd
}
