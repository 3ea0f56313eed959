package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/coolbeans/exocortex/pkg/config"
	"github.com/coolbeans/exocortex/pkg/dataset"
	"github.com/coolbeans/exocortex/pkg/engine"
	"github.com/coolbeans/exocortex/pkg/logging"
	"github.com/coolbeans/exocortex/pkg/query"
	"github.com/coolbeans/exocortex/pkg/store"
	"github.com/coolbeans/exocortex/pkg/templates"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "exocortex",
		Short: "SPARQL queries over a personal knowledge graph",
		Long: `Exocortex loads RDF datasets into an in-memory triple store and
answers SPARQL SELECT, CONSTRUCT and ASK queries over them.

Datasets can be N-Triples, N-Quads, JSON-LD or YAML/JSON triple lists.
The serve command exposes the same engine over an HTTP API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringSliceP("data", "d", nil, "Dataset files to load (repeatable)")

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(serveCmd())

	return rootCmd
}

// app is the state every command builds from the persistent flags.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loader *dataset.Loader
	engine *engine.Engine
	paths  []string
}

func setup(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		if _, err := logging.ParseLevel(level); err != nil {
			return nil, err
		}
		cfg.Log.Level = level
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())

	paths := append([]string(nil), cfg.Dataset.Paths...)
	extra, _ := cmd.Flags().GetStringSlice("data")
	paths = append(paths, extra...)

	loader := dataset.NewLoader(dataset.WithPrefixes(cfg.Prefixes), dataset.WithLogger(logger))
	ts := store.NewTripleStore()
	start := time.Now()
	added, err := loader.LoadInto(ts, paths...)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		logger.Info("datasets loaded", "files", len(paths), "triples", added, "duration", time.Since(start))
	}

	eng := engine.New(ts,
		engine.WithLogger(logger),
		engine.WithPrefixes(cfg.Prefixes),
		engine.WithCacheConfig(cfg.Cache.QueryCache()),
		engine.WithFilterPushdown(cfg.Optimizer.FilterPushdown),
		engine.WithJoinReordering(cfg.Optimizer.JoinReordering),
	)

	return &app{cfg: cfg, logger: logger, loader: loader, engine: eng, paths: paths}, nil
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [sparql-query]",
		Short: "Run a SPARQL query",
		Long: `Execute a SPARQL query against the loaded datasets.

Examples:
  # Tasks and their labels
  exocortex query -d tasks.nt "SELECT ?t ?l WHERE { ?t a ems:Task ; exo:Asset_label ?l }"

  # Count per class as CSV
  exocortex query -d vault.yaml -f csv "SELECT ?c (COUNT(?s) AS ?n) WHERE { ?s a ?c } GROUP BY ?c"

  # Subgraph as Turtle
  exocortex query -d tasks.nt -f turtle "CONSTRUCT { ?t exo:Asset_label ?l } WHERE { ?t exo:Asset_label ?l }"

  # Query from a file
  exocortex query -d tasks.nt --file report.rq

  # Use a template
  exocortex query -d vault.yaml --template tasks-by-status --param status=pending`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatStr, _ := cmd.Flags().GetString("format")
			showTiming, _ := cmd.Flags().GetBool("timing")
			templateName, _ := cmd.Flags().GetString("template")
			params, _ := cmd.Flags().GetStringToString("param")

			if listTemplates, _ := cmd.Flags().GetBool("list-templates"); listTemplates {
				printTemplates(cmd.OutOrStdout())
				return nil
			}

			var text string
			if templateName == "" {
				var err error
				if text, err = queryText(cmd, args); err != nil {
					return err
				}
			} else if len(args) > 0 {
				return fmt.Errorf("provide a query argument or --template, not both")
			}

			a, err := setup(cmd)
			if err != nil {
				return err
			}

			if templateName != "" {
				tmpl, ok := templates.Get(templateName)
				if !ok {
					return fmt.Errorf("unknown template: %s\nUse --list-templates to see available templates", templateName)
				}
				if text, err = templates.Render(tmpl, params, a.engine.Prefixes()); err != nil {
					return err
				}
			}

			startTime := time.Now()
			result, err := a.engine.Query(text)
			queryTime := time.Since(startTime)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}

			output, err := result.Format(query.OutputFormat(formatStr), a.engine.Prefixes())
			if err != nil {
				return fmt.Errorf("format error: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), output)

			if showTiming {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s query returned %d results in %v\n", result.Kind, result.Len(), queryTime)
			}
			return nil
		},
	}

	cmd.Flags().StringP("format", "f", "table", "Output format (table, json, csv for SELECT; turtle, ntriples, jsonld for CONSTRUCT; table, json for ASK)")
	cmd.Flags().String("file", "", "Read the query from a file")
	cmd.Flags().Bool("timing", false, "Show query execution timing")
	cmd.Flags().StringP("template", "t", "", "Use a pre-built query template")
	cmd.Flags().StringToString("param", nil, "Template parameter as name=value (repeatable)")
	cmd.Flags().Bool("list-templates", false, "List available query templates")

	return cmd
}

func printTemplates(w io.Writer) {
	fmt.Fprintln(w, "Available templates:")
	for _, name := range templates.Names() {
		tmpl, _ := templates.Get(name)
		fmt.Fprintf(w, "  %-20s [%s] %s\n", name, tmpl.Category, tmpl.Description)
		for _, parameter := range tmpl.Parameters {
			requirement := "default " + parameter.DefaultValue
			if parameter.Required() {
				requirement = "required"
			}
			fmt.Fprintf(w, "      --param %s=...  %s (%s)\n", parameter.Name, parameter.Description, requirement)
		}
	}
}

func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain [sparql-query]",
		Short: "Show the algebra plan of a query",
		Long: `Print the algebra tree a query translates to, followed by the tree
after optimization against the loaded datasets.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := queryText(cmd, args)
			if err != nil {
				return err
			}
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			plan, err := a.engine.Explain(text)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), plan.String())
			return nil
		},
	}
	cmd.Flags().String("file", "", "Read the query from a file")
	return cmd
}

func queryText(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("provide a query argument or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading query file: %w", err)
		}
		return string(data), nil
	case len(args) > 0:
		return args[0], nil
	default:
		return "", fmt.Errorf("provide a query or use --file")
	}
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show statistics for the loaded datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			top, _ := cmd.Flags().GetInt("top")
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			stats := a.engine.Stats()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Triples:    %d\n", stats.TotalTriples)
			fmt.Fprintf(out, "Subjects:   %d\n", stats.UniqueSubjects)
			fmt.Fprintf(out, "Predicates: %d\n", stats.UniquePredicates)
			fmt.Fprintf(out, "Objects:    %d\n\n", stats.UniqueObjects)

			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"Predicate", "Triples"})
			table.SetAutoFormatHeaders(false)
			for _, row := range topCounts(stats.PredicateCounts, top) {
				table.Append([]string{row.key, strconv.Itoa(row.count)})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int("top", 20, "Number of predicates to list")
	return cmd
}

type keyCount struct {
	key   string
	count int
}

// topCounts orders counts descending, then by key, and keeps at most n.
func topCounts(counts map[string]int, n int) []keyCount {
	rows := make([]keyCount, 0, len(counts))
	for key, count := range counts {
		rows = append(rows, keyCount{key: key, count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].key < rows[j].key
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}
