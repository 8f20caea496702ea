package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
	"github.com/opensensorhub/osh-addons-sub008/internal/tasking"
)

type streamListOptions struct {
	*rootOptions
	IDs         []string
	Systems     []string
	Inputs      []string
	ValidAt     string
	CurrentOnly bool
	Query       string
	Limit       int
}

func newStreamsCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streams",
		Short: "Inspect command streams",
	}

	opts := &streamListOptions{rootOptions: rootOpts}
	list := &cobra.Command{
		Use:   "list",
		Short: "List command streams matching a filter",
		Long: `List command streams matching a filter.

Examples:
  taskingd streams list --current
  taskingd streams list --system 1:4 --input setpoint --valid-at 2026-03-01T12:00:00Z
  taskingd streams list --q pump --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStreamsList(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	list.Flags().StringSliceVar(&opts.IDs, "id", nil, "stream keys (scope:id)")
	list.Flags().StringSliceVar(&opts.Systems, "system", nil, "system keys (scope:id)")
	list.Flags().StringSliceVar(&opts.Inputs, "input", nil, "control input names")
	list.Flags().StringVar(&opts.ValidAt, "valid-at", "", "only streams valid at this RFC 3339 instant")
	list.Flags().BoolVar(&opts.CurrentOnly, "current", false, "only current (open-ended) versions")
	list.Flags().StringVar(&opts.Query, "q", "", "case-insensitive text in name or description")
	list.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of streams (0 = all)")
	cmd.AddCommand(list)

	return cmd
}

func (o *streamListOptions) filter() (tasking.StreamFilter, error) {
	f := tasking.StreamFilter{
		ControlInputNames:  o.Inputs,
		CurrentVersionOnly: o.CurrentOnly,
		FullText:           o.Query,
		Limit:              o.Limit,
	}
	var err error
	if f.InternalIDs, err = parseKeys("id", o.IDs); err != nil {
		return f, err
	}
	if f.SystemIDs, err = parseKeys("system", o.Systems); err != nil {
		return f, err
	}
	if o.ValidAt != "" {
		t, err := time.Parse(time.RFC3339, o.ValidAt)
		if err != nil {
			return f, usageError("invalid --valid-at %q: %v", o.ValidAt, err)
		}
		f.ValidAt = &t
	}
	if o.Limit < 0 {
		return f, usageError("--limit must not be negative")
	}
	return f, nil
}

func runStreamsList(ctx context.Context, opts *streamListOptions, w io.Writer) error {
	f, err := opts.filter()
	if err != nil {
		return err
	}

	return withStores(ctx, opts.rootOptions, func(ctx context.Context, stores *tasking.Stores) error {
		cur, err := stores.Streams.SelectEntries(ctx, f)
		if err != nil {
			return err
		}
		entries := []tasking.Entry[*tasking.CommandStream]{}
		for k, v := range cur.All() {
			entries = append(entries, tasking.Entry[*tasking.CommandStream]{Key: k, Value: v})
		}
		if err := cur.Err(); err != nil {
			return err
		}

		if opts.Format == "json" {
			return writeJSON(w, entries)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tSYSTEM\tINPUT\tNAME\tVALID")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				e.Key, e.Value.SystemID, e.Value.ControlInputName, e.Value.Name, e.Value.ValidTime)
		}
		return tw.Flush()
	})
}

type statusListOptions struct {
	*rootOptions
	Commands []string
	Streams  []string
	Codes    []string
	After    string
	Before   string
	Fields   []string
	Limit    int
}

func newStatusesCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statuses",
		Short: "Inspect command status reports",
	}

	opts := &statusListOptions{rootOptions: rootOpts}
	list := &cobra.Command{
		Use:   "list",
		Short: "List command status reports matching a filter",
		Long: `List command status reports matching a filter.

Examples:
  taskingd statuses list --command 1:12
  taskingd statuses list --stream 1:3 --code FAILED,REJECTED --after 2026-03-01T00:00:00Z
  taskingd statuses list --fields statusCode,progress --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatusesList(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	list.Flags().StringSliceVar(&opts.Commands, "command", nil, "command keys (scope:id)")
	list.Flags().StringSliceVar(&opts.Streams, "stream", nil, "stream keys (scope:id)")
	list.Flags().StringSliceVar(&opts.Codes, "code", nil, "status codes")
	list.Flags().StringVar(&opts.After, "after", "", "reports at or after this RFC 3339 instant")
	list.Flags().StringVar(&opts.Before, "before", "", "reports before this RFC 3339 instant")
	list.Flags().StringSliceVar(&opts.Fields, "fields", nil, "only these fields ("+fieldNames()+")")
	list.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of reports (0 = all)")
	cmd.AddCommand(list)

	return cmd
}

var statusFields = []tasking.Field{
	tasking.FieldCommandID,
	tasking.FieldReportTime,
	tasking.FieldStatusCode,
	tasking.FieldProgress,
	tasking.FieldExecutionTime,
	tasking.FieldMessage,
	tasking.FieldResult,
}

func fieldNames() string {
	names := make([]string, len(statusFields))
	for i, f := range statusFields {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}

func (o *statusListOptions) filter() (tasking.StatusFilter, []tasking.Field, error) {
	f := tasking.StatusFilter{Limit: o.Limit}
	var err error
	if f.CommandIDs, err = parseKeys("command", o.Commands); err != nil {
		return f, nil, err
	}
	if f.StreamIDs, err = parseKeys("stream", o.Streams); err != nil {
		return f, nil, err
	}

	known := make(map[tasking.StatusCode]bool)
	for _, c := range tasking.AllStatusCodes() {
		known[c] = true
	}
	for _, c := range o.Codes {
		code := tasking.StatusCode(strings.ToUpper(strings.TrimSpace(c)))
		if !known[code] {
			return f, nil, usageError("unknown status code %q", c)
		}
		f.StatusCodes = append(f.StatusCodes, code)
	}

	if f.ReportedAfter, err = parseInstant("after", o.After); err != nil {
		return f, nil, err
	}
	if f.ReportedBefore, err = parseInstant("before", o.Before); err != nil {
		return f, nil, err
	}
	if o.Limit < 0 {
		return f, nil, usageError("--limit must not be negative")
	}

	var fields []tasking.Field
	for _, name := range o.Fields {
		field := tasking.Field(strings.TrimSpace(name))
		valid := false
		for _, sf := range statusFields {
			if sf == field {
				valid = true
				break
			}
		}
		if !valid {
			return f, nil, usageError("unknown field %q (known: %s)", name, fieldNames())
		}
		fields = append(fields, field)
	}
	return f, fields, nil
}

func runStatusesList(ctx context.Context, opts *statusListOptions, w io.Writer) error {
	f, fields, err := opts.filter()
	if err != nil {
		return err
	}

	return withStores(ctx, opts.rootOptions, func(ctx context.Context, stores *tasking.Stores) error {
		cur, err := stores.Statuses.SelectEntries(ctx, f, fields...)
		if err != nil {
			return err
		}
		entries := []tasking.Entry[*tasking.CommandStatus]{}
		for k, v := range cur.All() {
			entries = append(entries, tasking.Entry[*tasking.CommandStatus]{Key: k, Value: v})
		}
		if err := cur.Err(); err != nil {
			return err
		}

		if opts.Format == "json" {
			return writeJSON(w, entries)
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tCOMMAND\tREPORTED\tSTATUS\tPROGRESS\tMESSAGE")
		for _, e := range entries {
			s := e.Value
			progress := "-"
			if s.Progress != tasking.ProgressUnknown {
				progress = fmt.Sprintf("%d%%", s.Progress)
			}
			reported := ""
			if !s.ReportTime.IsZero() {
				reported = s.ReportTime.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Key, s.CommandID, reported, s.StatusCode, progress, s.Message)
		}
		return tw.Flush()
	})
}

// withStores runs fn against stores in the configured scope. The schema is
// not migrated.
func withStores(ctx context.Context, rootOpts *rootOptions, fn func(context.Context, *tasking.Stores) error) error {
	return withDatabase(ctx, rootOpts, func(ctx context.Context, cfg *config.Config, db *database.DB) error {
		stores := tasking.NewStores(db, tasking.Options{
			Scope:           cfg.Store.Scope,
			CacheMaxEntries: cfg.Store.StreamCache.MaxEntries,
			CacheTTL:        cfg.CacheTTL(),
		})
		defer stores.Close() //nolint:errcheck // Only stops the cache janitor
		return fn(ctx, stores)
	})
}

func parseKeys(flag string, values []string) ([]tasking.Key, error) {
	var keys []tasking.Key
	for _, v := range values {
		k, err := tasking.ParseKey(strings.TrimSpace(v))
		if err != nil {
			return nil, usageError("invalid --%s: %v", flag, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func parseInstant(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, usageError("invalid --%s %q: %v", flag, value, err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
