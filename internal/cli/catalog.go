package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"extractor/internal/etl"
	"extractor/internal/service"
	"extractor/internal/upload"

	"github.com/spf13/cobra"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// ── sources ────────────────────────────────────────────────

func (a *app) newSourcesCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List source types and their config keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := etl.ListSources()
			if asJSON {
				return writeJSON(a.stdout, specs)
			}
			for _, spec := range specs {
				fmt.Fprintf(a.stdout, "%s\t%s\n", spec.Type, spec.Label)
				for _, f := range spec.ConfigFields {
					line := "    " + f.Key
					if f.Required {
						line += " (required)"
					}
					if f.Env != "" {
						line += " [$" + f.Env + "]"
					}
					if f.Help != "" {
						line += "  " + f.Help
					}
					fmt.Fprintln(a.stdout, line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the specs as JSON")
	return cmd
}

// ── connections ────────────────────────────────────────────

func (a *app) newConnectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage saved database connections for the \"database\" source",
	}

	var in service.CreateDBConnInput
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Save a connection; the password goes to the secret store",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			conn, err := a.connections.CreateConnection(in)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, conn.ID)
			return nil
		}),
	}
	f := add.Flags()
	f.StringVar(&in.Driver, "driver", "", "postgres, mysql, sqlite, mssql, mongodb, redis or elasticsearch")
	f.StringVar(&in.Host, "host", "", "hostname, URI, or file path for sqlite")
	f.IntVar(&in.Port, "port", 0, "port (0 = driver default)")
	f.StringVar(&in.Database, "database", "", "database name, redis db index or elasticsearch index")
	f.StringVar(&in.Username, "user", "", "user name")
	f.StringVar(&in.Password, "password", "", "password")
	f.StringVar(&in.SSLMode, "ssl-mode", "disable", "postgres sslmode")
	add.MarkFlagRequired("driver")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved connections",
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			conns, err := a.connections.ListConnections()
			if err != nil {
				return err
			}
			tw := newTable(a.stdout)
			fmt.Fprintln(tw, "ID\tNAME\tDRIVER\tHOST\tDATABASE")
			for _, c := range conns {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Driver, c.Host, c.Database)
			}
			return tw.Flush()
		}),
	}

	test := &cobra.Command{
		Use:   "test ID",
		Short: "Open a connection and ping it",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			if err := a.connections.TestConnection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "OK")
			return nil
		}),
	}

	schema := &cobra.Command{
		Use:   "schema ID",
		Short: "Print the tables and columns of a connection",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			info, err := a.connections.Introspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(a.stdout, info)
		}),
	}

	rm := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a connection and its password",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			return a.connections.DeleteConnection(args[0])
		}),
	}

	cmd.AddCommand(add, list, test, schema, rm)
	return cmd
}

// ── targets ────────────────────────────────────────────────

func (a *app) newTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage saved upload targets (remote datasheets)",
	}

	var (
		in       service.CreateTargetInput
		fieldMap string
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Save a target; the token goes to the secret store",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			if in.BaseURL == "" {
				in.BaseURL = a.cfg.Upload.BaseURL
			}
			if in.Token == "" {
				in.Token = a.cfg.Upload.Token
			}
			fm, err := upload.ParseFieldMap(fieldMap)
			if err != nil {
				return err
			}
			in.FieldMap = fm
			t, err := a.targets.CreateTarget(in)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, t.ID)
			return nil
		}),
	}
	f := add.Flags()
	f.StringVar(&in.BaseURL, "base-url", "", "datasheet API base URL (default $EXTRACTOR_UPLOAD_BASE_URL)")
	f.StringVar(&in.DatasheetID, "datasheet", "", "remote datasheet id")
	f.StringVar(&in.Token, "token", "", "API token (default $EXTRACTOR_UPLOAD_TOKEN)")
	f.StringVar(&fieldMap, "field-map", "", "JSON object mapping column names to remote field ids")
	f.IntVar(&in.BatchSize, "batch-size", 0, "records per request (0 = default)")
	add.MarkFlagRequired("datasheet")
	add.MarkFlagRequired("field-map")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved targets",
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			targets, err := a.targets.ListTargets()
			if err != nil {
				return err
			}
			tw := newTable(a.stdout)
			fmt.Fprintln(tw, "ID\tNAME\tDATASHEET\tBASE URL\tFIELDS")
			for _, t := range targets {
				fm, _ := upload.ParseFieldMap(t.FieldMapJSON)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", t.ID, t.Name, t.DatasheetID, t.BaseURL, len(fm))
			}
			return tw.Flush()
		}),
	}

	rm := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a target and its token",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			return a.targets.DeleteTarget(args[0])
		}),
	}

	cmd.AddCommand(add, list, rm)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
