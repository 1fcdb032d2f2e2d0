package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"fluxtask/core"
	"fluxtask/db"
	"fluxtask/imagegen"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// app holds the state shared by every command of one process run.
type app struct {
	stdout io.Writer
	stderr io.Writer

	// persistent flags
	configPath string
	credential string

	exitCode int

	// test hooks
	sleep     imagegen.Sleeper
	forceExit func(code int)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:   stdout,
		stderr:   stderr,
		exitCode: core.ExitCodeSuccess,
	}
}

// newRootCommand builds the fluxtask command tree.
func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "fluxtask",
		Short: "Submit FLUX image generation and fine-tuning tasks",
		Long: `fluxtask submits jobs to the FLUX image service, waits for them to finish and
writes the resulting image. A failed job never aborts the command: a blank
512x512 image is written instead and the exit code is 3.

Configuration comes from the environment (BFL_API_KEY, BFL_BASE_URL, ...),
an optional .env file and an optional YAML file passed with --config.

Examples:
  fluxtask generate "a lighthouse at dusk" --aspect-ratio 21:9
  fluxtask generate "studio shot of a teapot" --standard --format jpeg -o teapot.jpg
  fluxtask finetune ./training.zip --comment "teapot v1" --mode product
  fluxtask inference ft-1234 "TOK on a beach" --strength 1.1
  fluxtask history --limit 10`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file applied on top of the environment")
	root.PersistentFlags().StringVar(&a.credential, "x-key", "", "API credential (overrides BFL_API_KEY)")

	root.AddCommand(
		newGenerateCommand(a),
		newFinetuneCommand(a),
		newInferenceCommand(a),
		newHistoryCommand(a),
		newVersionCommand(a),
	)
	return root
}

func newGenerateCommand(a *app) *cobra.Command {
	req := imagegen.DefaultGenerationRequest()
	var (
		standard bool
		format   string
		out      string
	)

	cmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Generate an image from a text prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			req.UltraMode = !standard
			req.OutputFormat = imagegen.OutputFormat(format)

			inv := imagegen.Invocation{Operation: imagegen.OperationGenerate, Generation: req}
			return a.invoke(cmd.Context(), inv, out, req.OutputFormat)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.AspectRatio, "aspect-ratio", req.AspectRatio, "aspect ratio, one of "+strings.Join(imagegen.AspectRatios, ", "))
	flags.BoolVar(&standard, "standard", false, "use the standard model with explicit width and height")
	flags.IntVar(&req.SafetyTolerance, "safety", req.SafetyTolerance, "safety tolerance from 0 (strict) to 6")
	flags.StringVar(&format, "format", string(req.OutputFormat), "output format: jpeg or png")
	flags.BoolVar(&req.Raw, "raw", req.Raw, "request less processed output (ultra model only)")
	flags.IntVar(&req.Seed, "seed", req.Seed, "seed, -1 lets the service choose")
	flags.StringVarP(&out, "out", "o", "", "output file (default <output_dir>/<correlation id>.<format>)")
	return cmd
}

func newFinetuneCommand(a *app) *cobra.Command {
	req := imagegen.DefaultFinetuneRequest()
	var mode, priority, finetuneType string

	cmd := &cobra.Command{
		Use:   "finetune ZIP",
		Short: "Submit a fine-tuning job from a zip archive of training images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.ZipPath = args[0]
			req.Mode = imagegen.FinetuneMode(mode)
			req.Priority = imagegen.FinetunePriority(priority)
			req.Type = imagegen.FinetuneType(finetuneType)

			inv := imagegen.Invocation{Operation: imagegen.OperationFinetune, Finetune: req}
			return a.invoke(cmd.Context(), inv, "", "")
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Comment, "comment", "", "description stored with the fine-tune (required)")
	flags.StringVar(&req.TriggerWord, "trigger", req.TriggerWord, "word that invokes the trained subject in prompts")
	flags.StringVar(&mode, "mode", string(req.Mode), "character, product, style or general")
	flags.IntVar(&req.Iterations, "iterations", req.Iterations, "training iterations (at least 100)")
	flags.Float64Var(&req.LearningRate, "learning-rate", req.LearningRate, "learning rate between 0.00001 and 0.0001")
	flags.BoolVar(&req.Captioning, "captioning", req.Captioning, "caption training images automatically")
	flags.StringVar(&priority, "priority", string(req.Priority), "speed or quality")
	flags.StringVar(&finetuneType, "type", string(req.Type), "full or lora")
	flags.IntVar(&req.LoRARank, "lora-rank", req.LoRARank, "LoRA rank (lora type only)")
	return cmd
}

func newInferenceCommand(a *app) *cobra.Command {
	req := imagegen.DefaultInferenceRequest()
	var (
		standard bool
		format   string
		safety   int
		raw      bool
		out      string
	)

	cmd := &cobra.Command{
		Use:   "inference FINETUNE_ID PROMPT",
		Short: "Generate an image with a trained fine-tune",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.FinetuneID = args[0]
			req.Prompt = strings.Join(args[1:], " ")
			req.UltraMode = !standard
			req.Options.OutputFormat = imagegen.OutputFormat(format)
			if cmd.Flags().Changed("safety") {
				req.Options.SafetyTolerance = &safety
			}
			if cmd.Flags().Changed("raw") {
				req.Options.Raw = &raw
			}

			inv := imagegen.Invocation{Operation: imagegen.OperationFinetuneInference, Inference: req}
			return a.invoke(cmd.Context(), inv, out, req.Options.OutputFormat)
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&req.FinetuneStrength, "strength", req.FinetuneStrength, "how strongly the fine-tune steers the result")
	flags.BoolVar(&standard, "standard", false, "use the standard fine-tuned model")
	flags.StringVar(&format, "format", "", "output format: jpeg or png (service default when unset)")
	flags.StringVar(&req.Options.AspectRatio, "aspect-ratio", "", "aspect ratio, one of "+strings.Join(imagegen.AspectRatios, ", "))
	flags.IntVar(&safety, "safety", imagegen.MaxSafetyTolerance, "safety tolerance from 0 (strict) to 6")
	flags.BoolVar(&raw, "raw", false, "request less processed output")
	flags.IntVar(&req.Options.Seed, "seed", req.Options.Seed, "seed, -1 lets the service choose")
	flags.StringVarP(&out, "out", "o", "", "output file (default <output_dir>/<correlation id>.<format>)")
	return cmd
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit, pruneDays int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded in the history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if cfg.HistoryDBPath == "" {
				return core.ErrInvalidValue("FLUXTASK_HISTORY_DB", "run history is disabled")
			}

			database, err := db.OpenDatabase(cfg.HistoryDBPath)
			if err != nil {
				return fmt.Errorf("failed to open history database: %w", err)
			}
			defer database.Close()

			ctx := cmd.Context()
			if cmd.Flags().Changed("prune-days") {
				result, err := database.Cleanup(ctx, pruneDays)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "Pruned %d run(s) older than %d day(s)\n", result.RunsDeleted, pruneDays)
			}

			runs, err := db.NewRepository(database).ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			printHistory(a.stdout, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", db.DefaultListLimit, "number of runs to show")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "delete runs older than this many days before listing")
	return cmd
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "fluxtask %s\n", core.GetVersionInfo())
		},
	}
}

// printResult writes a short summary of a run.
func printResult(w io.Writer, op imagegen.Operation, res imagegen.Result, imagePath string) {
	if res.Fallback {
		color.New(color.FgYellow, color.Bold).Fprintf(w, "%s failed, placeholder returned", op)
		fmt.Fprintf(w, " (%s)\n", imagegen.ErrorKind(res.Err))
	} else {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "%s succeeded\n", op)
	}

	dim := color.New(color.FgHiBlack)
	field := func(name, value string) {
		if value == "" {
			return
		}
		dim.Fprintf(w, "  %-15s", name)
		fmt.Fprintln(w, value)
	}

	field("correlation id", res.CorrelationID)
	field("task id", string(res.TaskID))
	if op != imagegen.OperationGenerate {
		field("finetune id", res.Auxiliary)
	}
	if res.Attempts > 0 {
		field("attempts", fmt.Sprintf("%d", res.Attempts))
	}
	field("image", imagePath)
	if res.Err != nil {
		field("error", redactedError(res.Err))
	}
}

// printHistory renders runs as an aligned table.
func printHistory(w io.Writer, runs []db.TaskRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCORRELATION\tOPERATION\tOUTCOME\tTASK\tFINETUNE\tATTEMPTS\tDURATION\tERROR")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.StartedAt.Local().Format(time.DateTime),
			run.CorrelationID,
			run.Operation,
			run.Outcome,
			orDash(run.TaskID),
			orDash(run.FinetuneID),
			run.Attempts,
			run.Duration.Round(time.Millisecond),
			orDash(run.ErrorKind),
		)
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
