package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goliatone/go-command/dispatcher"
	"github.com/spf13/cobra"

	reportxlsx "github.com/goliatone/go-sceneexport/adapters/report/xlsx"
	"github.com/goliatone/go-sceneexport/command"
	"github.com/goliatone/go-sceneexport/presets"
	"github.com/goliatone/go-sceneexport/query"
	"github.com/goliatone/go-sceneexport/scene"
)

func newRunCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-file>",
		Short: "Run a job described by a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			var result scene.RunResult
			if err := dispatcher.Dispatch(cmd.Context(), command.RunJobFile{Path: args[0], Result: &result}); err != nil {
				return err
			}
			return printArtifacts(cmd.OutOrStdout(), rt, result)
		},
	}
}

func newBatchCommand(opts *Options) *cobra.Command {
	var (
		limits   command.BatchLimits
		interval time.Duration
		summary  bool
	)
	cmd := &cobra.Command{
		Use:   "batch <job-dir>",
		Short: "Run every job file in a directory, in name order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			limits.MinInterval = interval
			batch := command.NewBatchCommand(rt, command.DirLoader(args[0]),
				command.WithBatchLimits(limits),
				command.WithBatchLogger(rt.logger),
			)
			started := time.Now().Truncate(time.Second)
			report, err := batch.Run(cmd.Context(), "")
			for _, result := range report.Results {
				if perr := printArtifacts(cmd.OutOrStdout(), rt, result); perr != nil {
					return perr
				}
			}
			for name, jobErr := range report.Failed {
				rt.logger.Error("batch job failed", append([]any{"job", name}, ErrorAttrs(jobErr)...)...)
			}
			if summary {
				records, lerr := rt.tracker.List(cmd.Context(), scene.RunFilter{Since: started})
				if lerr != nil {
					return errors.Join(err, lerr)
				}
				if perr := printRecords(cmd.OutOrStdout(), records); perr != nil {
					return errors.Join(err, perr)
				}
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limits.MaxJobs, "max-jobs", 0, "Maximum number of jobs to run (0 runs all)")
	cmd.Flags().BoolVar(&limits.ContinueOnError, "continue", false, "Keep going after a job fails")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between jobs")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print a table of the runs this batch started")
	return cmd
}

func newHistoryCommand(opts *Options) *cobra.Command {
	var (
		filter   scene.RunFilter
		state    string
		since    time.Duration
		xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs (requires SCENE_HISTORY_DB)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := opts.newRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.tracker == nil {
				return historyDisabled()
			}

			filter.State = scene.RunState(state)
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			records, err := dispatcher.Query[query.RunHistory, []scene.RunRecord](cmd.Context(), query.RunHistory{Filter: filter})
			if err != nil {
				return err
			}
			if xlsxPath == "" {
				return printRecords(cmd.OutOrStdout(), records)
			}

			out, err := os.Create(xlsxPath)
			if err != nil {
				return scene.NewError(scene.KindInternal, "create report", err)
			}
			stats, err := reportxlsx.Write(cmd.Context(), out, records)
			if cerr := out.Close(); err == nil && cerr != nil {
				err = scene.NewError(scene.KindInternal, "close report", cerr)
			}
			if err != nil {
				return err
			}
			rt.logger.Info("history report written", "path", xlsxPath, "runs", stats.Runs, "artifacts", stats.Artifacts, "bytes", stats.Bytes)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Job, "job", "", "Only runs of this job")
	cmd.Flags().StringVar(&state, "state", "", "Only runs in this state (running, completed, failed)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only runs started within this duration")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum runs to list (0 lists all)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Write the history as an XLSX workbook instead of printing it")
	cmd.AddCommand(newStatusCommand(opts))
	return cmd
}

func newStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.newRuntime(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.tracker == nil {
				return historyDisabled()
			}
			record, err := dispatcher.Query[query.RunStatus, scene.RunRecord](cmd.Context(), query.RunStatus{RunID: args[0]})
			if err != nil {
				return err
			}
			if err := printRecords(cmd.OutOrStdout(), []scene.RunRecord{record}); err != nil {
				return err
			}
			return printArtifactFiles(cmd, rt, record)
		},
	}
}

func newPresetsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in example jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range opts.Presets.Names() {
				preset, err := opts.Presets.Lookup(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", preset.Name, preset.Description)
			}
			return w.Flush()
		},
	}
}

func newPresetCommand(opts *Options, name string) *cobra.Command {
	var (
		params   presets.Params
		degrees  float64
		dataPath string
	)
	short := "Run the " + name + " example"
	if preset, err := opts.Presets.Lookup(name); err == nil && preset.Description != "" {
		short = preset.Description
	}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("degrees") {
				params.Degrees = &degrees
			}
			if dataPath != "" {
				vars, err := presets.LoadVariables(dataPath)
				if err != nil {
					return err
				}
				params.Variables = vars
			}
			job, err := opts.Presets.Job(name, params)
			if err != nil {
				return err
			}

			rt, err := opts.newRuntime(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := dispatcher.DispatchWithResult[command.RunJob, scene.RunResult](cmd.Context(), command.RunJob{Job: job})
			if err != nil {
				return err
			}
			return printArtifacts(cmd.OutOrStdout(), rt, result)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&params.Mime, "mime", "", "Export format (png, jpeg, webp, pdf, mp4)")
	flags.StringVar(&params.Fallback, "fallback", "", "Format to retry with when the engine cannot produce --mime (\"none\" disables)")
	flags.StringSliceVar(&params.Images, "image", nil, "Image URI(s) replacing the sample images")
	switch name {
	case presets.Greeting:
		flags.StringVar(&params.Text, "text", "", "Greeting text")
	case presets.Rotate, presets.RotateGroup, presets.Constraint:
		flags.Float64Var(&degrees, "degrees", 0, "Rotation in degrees")
	case presets.Scale:
		flags.Float64Var(&params.Factor, "factor", 0, "Scale factor")
		flags.Float64Var(&params.Min, "min", 0, "Minimum scale factor")
		flags.Float64Var(&params.Max, "max", 0, "Maximum scale factor")
	case presets.Video:
		flags.StringVar(&params.Video, "video", "", "Video URI replacing the sample video")
	case presets.Automate:
		flags.StringVar(&dataPath, "data", "", "YAML or JSON file with text variables")
		flags.StringVar(&params.SceneURL, "scene-url", "", "Scene template to load instead of the built-in postcard")
	case presets.Export:
		flags.StringVar(&params.SceneURL, "scene-url", "", "Scene to load instead of the built-in page")
	}
	return cmd
}

func printArtifacts(w io.Writer, rt *runtime, result scene.RunResult) error {
	for _, artifact := range result.Artifacts {
		location := artifact.Location
		if location == "" {
			location = filepath.Join(rt.cfg.OutputDir, filepath.FromSlash(artifact.Ref.Key))
		}
		if _, err := fmt.Fprintln(w, location); err != nil {
			return err
		}
	}
	return nil
}

// printArtifactFiles lists the files a run wrote as they are on disk now.
func printArtifactFiles(cmd *cobra.Command, rt *runtime, record scene.RunRecord) error {
	if len(record.Artifacts) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nARTIFACT\tTYPE\tSIZE")
	for _, ref := range record.Artifacts {
		file, meta, err := rt.store.Open(cmd.Context(), ref.Key)
		switch {
		case scene.KindFromError(err) == scene.KindNotFound:
			fmt.Fprintf(tw, "%s\t-\tmissing\n", ref.Key)
			continue
		case err != nil:
			return err
		}
		if err := file.Close(); err != nil {
			return scene.NewError(scene.KindInternal, "close artifact", err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\n", ref.Key, meta.ContentType, meta.Size)
	}
	return tw.Flush()
}

func printRecords(w io.Writer, records []scene.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tJOB\tSTATE\tSTARTED\tARTIFACTS\tERROR")
	for _, record := range records {
		keys := make([]string, 0, len(record.Artifacts))
		for _, ref := range record.Artifacts {
			keys = append(keys, ref.Key)
		}
		errText := record.Error
		if record.ErrorKind != "" {
			errText = fmt.Sprintf("%s: %s", record.ErrorKind, record.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			record.ID, record.Job, record.State,
			record.CreatedAt.Format(time.RFC3339), strings.Join(keys, ","), errText)
	}
	return tw.Flush()
}

func historyDisabled() error {
	return scene.NewError(scene.KindConfiguration, "run history is disabled; set SCENE_HISTORY_DB", nil)
}
