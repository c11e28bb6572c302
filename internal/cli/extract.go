package cli

import (
	"fmt"
	"io"
	"strings"

	"extractor/internal/etl"
	"extractor/internal/service"
	"extractor/internal/upload"

	"github.com/spf13/cobra"
)

// Exit codes reported by extract and jobs run.
const (
	exitFailed  = 1
	exitPartial = 2
)

type extractOptions struct {
	SourceType string
	Params     []string
	Transforms string
	Output     string

	UploadTarget string
	BaseURL      string
	Datasheet    string
	Token        string
	FieldMap     string
	BatchSize    int
}

func (a *app) newExtractCommand() *cobra.Command {
	var opts extractOptions
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract a source once, optionally writing a file and uploading",
		Long: `
Extracts one source into a string table. With --output the table is written
to a .csv or .xlsx file; with --upload-target (a saved target) or --datasheet
the table is delivered in batches to the remote datasheet.

The run is recorded in the upload history and reported as:

  STATUS: SUCCESS|PARTIAL|ERROR
  EXTRACTED_ROWS: n
  UPLOADED_RECORDS: n
  FILE_PATH: path
  DURATION: seconds

Exit status is 0 on success, 2 when some batches were rejected and 1 on error.
`,
		Example: `  extractor extract --source-type csv_file --param filePath=people.csv --output people.xlsx
  extractor extract --source-type postgres --param query="SELECT * FROM orders" \
      --datasheet dstOrders --field-map '{"id":"fldId","total":"fldTotal"}'`,
		RunE: a.withServices(func(cmd *cobra.Command, args []string) error {
			return a.runExtract(cmd, opts)
		}),
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.SourceType, "source-type", "s", "", "source type (see extractor sources)")
	flags.StringArrayVarP(&opts.Params, "param", "p", nil, "source config as key=value, repeatable")
	flags.StringVar(&opts.Transforms, "transforms", "", "JSON array of transforms applied before output and upload")
	flags.StringVarP(&opts.Output, "output", "o", "", "write the table to this .csv or .xlsx file")
	flags.StringVar(&opts.UploadTarget, "upload-target", "", "saved upload target id")
	flags.StringVar(&opts.BaseURL, "base-url", "", "datasheet API base URL (default $EXTRACTOR_UPLOAD_BASE_URL)")
	flags.StringVar(&opts.Datasheet, "datasheet", "", "remote datasheet id, for an upload without a saved target")
	flags.StringVar(&opts.Token, "token", "", "API token (default $EXTRACTOR_UPLOAD_TOKEN)")
	flags.StringVar(&opts.FieldMap, "field-map", "", `JSON object mapping column names to remote field ids`)
	flags.IntVar(&opts.BatchSize, "batch-size", 0, "records per request (default $EXTRACTOR_BATCH_SIZE)")
	cmd.MarkFlagRequired("source-type")
	return cmd
}

func (a *app) runExtract(cmd *cobra.Command, opts extractOptions) error {
	if opts.UploadTarget != "" && opts.Datasheet != "" {
		return fmt.Errorf("--upload-target and --datasheet cannot be used together")
	}
	cfg, err := parseParams(opts.Params)
	if err != nil {
		return err
	}
	transforms, err := parseTransforms(opts.Transforms)
	if err != nil {
		return err
	}

	run := service.AdhocRun{
		SourceType: opts.SourceType,
		SourceCfg:  cfg,
		Transforms: transforms,
		OutputPath: opts.Output,
		TargetID:   opts.UploadTarget,
	}
	if opts.Datasheet != "" {
		target, err := a.inlineTarget(opts)
		if err != nil {
			return err
		}
		run.Target = target
	}

	result, _ := a.etl.RunAdhoc(cmd.Context(), run)
	writeReport(a.stdout, result)
	return resultExit(result)
}

// inlineTarget builds an upload target from flags and the environment.
func (a *app) inlineTarget(opts extractOptions) (*etl.Target, error) {
	uc := a.cfg.UploadDefaults()
	uc.DatasheetID = opts.Datasheet
	if opts.BaseURL != "" {
		uc.BaseURL = opts.BaseURL
	}
	if opts.Token != "" {
		uc.Token = opts.Token
	}
	if opts.BatchSize > 0 {
		uc.BatchSize = opts.BatchSize
	}
	if err := uc.Validate(); err != nil {
		return nil, err
	}
	fm, err := upload.ParseFieldMap(opts.FieldMap)
	if err != nil {
		return nil, err
	}
	return &etl.Target{Name: opts.Datasheet, Config: uc, FieldMap: fm}, nil
}

// writeReport prints the machine-readable run report.
func writeReport(w io.Writer, r *etl.SyncResult) {
	fmt.Fprintf(w, "STATUS: %s\n", strings.ToUpper(r.Status))
	fmt.Fprintf(w, "EXTRACTED_ROWS: %d\n", r.RowsRead)
	fmt.Fprintf(w, "UPLOADED_RECORDS: %d\n", r.RowsDelivered)
	if r.OutputPath != "" {
		fmt.Fprintf(w, "FILE_PATH: %s\n", r.OutputPath)
	}
	fmt.Fprintf(w, "DURATION: %.2f\n", r.Duration.Seconds())
	if r.Summary != nil {
		if failed := r.Summary.FailedBatches(); len(failed) > 0 {
			fmt.Fprintf(w, "FAILED_BATCHES: %s\n", joinInts(failed))
		}
	}
	if r.Error != "" {
		fmt.Fprintf(w, "ERROR: %s\n", r.Error)
	}
}

func resultExit(r *etl.SyncResult) error {
	switch r.Status {
	case etl.StatusSuccess:
		return nil
	case etl.StatusPartial:
		return &exitError{code: exitPartial}
	default:
		return &exitError{code: exitFailed}
	}
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
