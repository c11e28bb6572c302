package cli

import (
	"fmt"
	"time"

	"extractor/internal/etl"
	"extractor/internal/service"

	"github.com/spf13/cobra"
)

func (a *app) newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage saved sync jobs",
	}

	var (
		in         service.CreateETLJobInput
		params     []string
		transforms string
		disabled   bool
	)
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Save a sync job",
		Long: `
Saves a job that extracts a source and writes a file and/or uploads to a
saved target. --trigger schedule takes a cron expression in --trigger-config
("*/15 * * * *"); --trigger file_watch takes a path and runs the job when the
file changes. Scheduled and watched jobs run under "extractor serve".
`,
		Args: cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			cfg, err := parseParams(params)
			if err != nil {
				return err
			}
			ts, err := parseTransforms(transforms)
			if err != nil {
				return err
			}
			in.Name = args[0]
			in.SourceConfig = cfg
			in.Transforms = ts
			in.Enabled = !disabled
			job, err := a.etl.CreateJob(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, job.ID)
			return nil
		}),
	}
	f := add.Flags()
	f.StringVarP(&in.SourceType, "source-type", "s", "", "source type (see extractor sources)")
	f.StringArrayVarP(&params, "param", "p", nil, "source config as key=value, repeatable")
	f.StringVar(&transforms, "transforms", "", "JSON array of transforms")
	f.StringVarP(&in.OutputPath, "output", "o", "", "write the table to this .csv or .xlsx file")
	f.StringVar(&in.TargetID, "upload-target", "", "saved upload target id")
	f.StringVar(&in.TriggerType, "trigger", "manual", "manual, schedule or file_watch")
	f.StringVar(&in.TriggerConfig, "trigger-config", "", "cron expression or watched path")
	f.BoolVar(&disabled, "disabled", false, "save the job without scheduling it")
	add.MarkFlagRequired("source-type")

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved jobs",
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			jobs, err := a.etl.ListJobs()
			if err != nil {
				return err
			}
			tw := newTable(a.stdout)
			fmt.Fprintln(tw, "ID\tNAME\tSOURCE\tTRIGGER\tENABLED\tLAST RUN\tSTATUS")
			for _, j := range jobs {
				trigger := j.TriggerType
				if j.TriggerConfig != "" {
					trigger += " " + j.TriggerConfig
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
					j.ID, j.Name, j.SourceType, trigger, j.Enabled, formatTime(j.LastRunAt), j.LastStatus)
			}
			return tw.Flush()
		}),
	}

	run := &cobra.Command{
		Use:   "run ID",
		Short: "Run a saved job now and print the run report",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			result, err := a.etl.RunJob(cmd.Context(), args[0])
			if result == nil {
				return err
			}
			writeReport(a.stdout, result)
			return resultExit(result)
		}),
	}

	rm := &cobra.Command{
		Use:   "rm ID",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			return a.etl.DeleteJob(cmd.Context(), args[0])
		}),
	}

	cmd.AddCommand(add, list, run, rm)
	return cmd
}

func (a *app) newHistoryCommand() *cobra.Command {
	var (
		limit, offset int
		jobID         string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the upload history, newest first",
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			if jobID != "" {
				runs, err := a.etl.ListRunLogs(jobID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(a.stdout, runs)
				}
				return a.printHistory(runs, len(runs), 0)
			}

			page, err := a.etl.ListHistory(limit, offset)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(a.stdout, page)
			}
			return a.printHistory(page.Entries, page.Total, offset)
		}),
	}
	f := cmd.Flags()
	f.IntVar(&limit, "limit", 20, "entries per page")
	f.IntVar(&offset, "offset", 0, "entries to skip")
	f.StringVar(&jobID, "job", "", "only runs of this job")
	f.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (a *app) printHistory(entries []etl.SyncRunLog, total, offset int) error {
	tw := newTable(a.stdout)
	fmt.Fprintln(tw, "STARTED\tSOURCE\tTARGET\tSTATUS\tREAD\tDELIVERED\tBATCHES\tERROR")
	for _, e := range entries {
		batches := "-"
		if e.TotalBatches > 0 {
			batches = fmt.Sprintf("%d/%d", e.TotalBatches-e.FailedBatches, e.TotalBatches)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			formatTime(e.StartedAt), e.SourceType, e.Target, e.Status,
			e.RowsRead, e.RowsDelivered, batches, shorten(e.Error, 60))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "showing %d-%d of %d\n", min(offset+1, total), offset+len(entries), total)
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
