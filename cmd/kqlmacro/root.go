package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/seanankenbruck/kql-resolver/internal/macros"
	"github.com/seanankenbruck/kql-resolver/internal/processor"
	"github.com/seanankenbruck/kql-resolver/internal/timerange"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// output is what the resolve command prints in json and yaml form
type output struct {
	RawQuery  string `json:"raw_query" yaml:"raw_query"`
	URIString string `json:"uri_string" yaml:"uri_string"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Timespan  string `json:"timespan" yaml:"timespan"`
	Interval  string `json:"interval" yaml:"interval"`
}

type resolveOptions struct {
	from       string
	to         string
	interval   string
	timeColumn string
	selectAll  string
	output     string
	uri        bool
	unsafe     bool
}

// now is replaced in tests
var now = time.Now

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kqlmacro",
		Short:         "Resolve Log Analytics query template macros",
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newResolveCmd(), newMacrosCmd())
	return root
}

func newResolveCmd() *cobra.Command {
	opts := &resolveOptions{}

	cmd := &cobra.Command{
		Use:   "resolve [TEMPLATE|-]",
		Short: "Expand the macros in a template",
		Long: `Expand the macros in a template and print the resulting KQL.
Reads the template from stdin when it is "-" or not given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := readTemplate(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return runResolve(cmd.OutOrStdout(), template, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.from, "from", timerange.DefaultFrom, "start of the time range: relative (now-6h), RFC3339 or epoch milliseconds")
	flags.StringVar(&opts.to, "to", timerange.DefaultTo, "end of the time range")
	flags.StringVar(&opts.interval, "interval", "5m", "value substituted for $__interval")
	flags.StringVar(&opts.timeColumn, "time-column", macros.DefaultTimeColumn, "column used by $__timeFilter without arguments")
	flags.StringVar(&opts.selectAll, "select-all", macros.DefaultSelectAll, "value that makes $__contains match everything")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format: text, json or yaml")
	flags.BoolVar(&opts.uri, "uri", false, "print the percent-encoded form in text output")
	flags.BoolVar(&opts.unsafe, "unsafe", false, "skip the management command check")
	return cmd
}

func newMacrosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "macros",
		Short: "List supported macros",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SYNTAX\tDESCRIPTION")
			for _, m := range macros.Catalog() {
				fmt.Fprintf(w, "%s\t%s\n", m.Syntax, m.Description)
			}
			return w.Flush()
		},
	}
}

func readTemplate(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func runResolve(w io.Writer, template string, opts *resolveOptions) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("template is empty")
	}

	tr, err := timerange.Parse(opts.from, opts.to, now())
	if err != nil {
		return err
	}

	resolver := macros.NewResolver(macros.Options{
		DefaultTimeColumn: opts.timeColumn,
		SelectAllValue:    opts.selectAll,
	})
	result := resolver.Resolve(macros.Query{Template: template, TimeRange: tr, Interval: opts.interval})

	if !opts.unsafe {
		if err := processor.NewSafetyChecker().ValidateQuery(result.RawQuery); err != nil {
			return err
		}
	}

	out := output{
		RawQuery:  result.RawQuery,
		URIString: result.URIString,
		From:      macros.FormatDatetime(tr.From),
		To:        macros.FormatDatetime(tr.To),
		Timespan:  timerange.Timespan(tr),
		Interval:  opts.interval,
	}

	switch opts.output {
	case "text", "":
		if opts.uri {
			_, err = fmt.Fprintln(w, out.URIString)
		} else {
			_, err = fmt.Fprintln(w, out.RawQuery)
		}
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown output format %q: want text, json or yaml", opts.output)
	}
}
