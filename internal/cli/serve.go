package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	mcpserver "extractor/internal/mcp"

	"github.com/spf13/cobra"
)

// shutdownGrace bounds how long serve waits for in-flight runs.
const shutdownGrace = 30 * time.Second

func (a *app) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled and file-watch jobs until interrupted",
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a.etl.RestartWatchers(ctx)
			log.Printf("serve: scheduler started (data dir %s)", a.cfg.DataDir)

			<-ctx.Done()
			log.Println("serve: shutting down, waiting for running jobs...")
			a.etl.Stop()

			waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			a.etl.WaitRunning(waitCtx)
			if waitCtx.Err() != nil {
				log.Printf("serve: gave up after %s with jobs still running: %v", shutdownGrace, a.etl.RunningJobs())
			}
			return nil
		}),
	}
}

func (a *app) newMCPCommand() *cobra.Command {
	var autoApprove bool
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools on stdin/stdout",
		Long: `
Runs the extractor MCP server over stdio. Tools that upload to a remote
datasheet wait for approval: resolve them with "extractor approvals" from
another terminal, or pass --auto-approve.
`,
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			srv := mcpserver.New(mcpserver.Deps{
				ETL:         a.etl,
				Connections: a.connections,
				Targets:     a.targets,
				Approvals:   a.approvals,
				AutoApprove: autoApprove,
			})
			return srv.ServeStdio()
		}),
	}
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "run uploads without asking")
	return cmd
}

func (a *app) newApprovalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "List and resolve uploads the MCP server is waiting on",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending approvals",
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			pending, err := a.approvals.ListPending()
			if err != nil {
				return err
			}
			tw := newTable(a.stdout)
			fmt.Fprintln(tw, "ID\tTOOL\tREQUESTED\tDESCRIPTION")
			for _, p := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Tool, formatTime(p.CreatedAt), p.Description)
			}
			return tw.Flush()
		}),
	}

	resolve := func(use, short string, approved bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
				return a.approvals.Resolve(args[0], approved)
			}),
		}
	}

	cmd.AddCommand(list,
		resolve("approve", "Approve a pending upload", true),
		resolve("reject", "Reject a pending upload", false),
	)
	return cmd
}
