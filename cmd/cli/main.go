package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/audible-pipeline/internal/config"
	"github.com/dvloznov/audible-pipeline/internal/domain"
	"github.com/dvloznov/audible-pipeline/internal/logger"
	"github.com/dvloznov/audible-pipeline/internal/pipeline"
	"github.com/dvloznov/audible-pipeline/internal/runs"
	"github.com/dvloznov/audible-pipeline/internal/runs/inmemory"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "run":
		runPipeline(os.Args[2:])
	case "db-ingest", "api-call", "convert-currency":
		runTask(cmd, os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Audible reconciliation pipeline")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run               Run the whole DAG once")
	fmt.Println("  db-ingest         Join transactions with the catalog")
	fmt.Println("  api-call          Fetch the daily conversion rates")
	fmt.Println("  convert-currency  Normalize prices to the target currency")
	fmt.Println("  inspect           Print the head of an artifact")
	fmt.Println("  help              Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// commonFlags are accepted by every command.
type commonFlags struct {
	timeout time.Duration
	envFile string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.DurationVar(&c.timeout, "timeout", 30*time.Minute, "abort the command after this long")
	fs.StringVar(&c.envFile, "env", ".env", "optional env file read before the environment")
}

// setup loads configuration, validates the given setting groups and returns
// a cancellable context carrying the logger. SIGINT and SIGTERM cancel the
// context.
func setup(c commonFlags, checks ...config.Check) (context.Context, context.CancelFunc, *config.Config, zerolog.Logger) {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	if err := cfg.Validate(checks...); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	ctx = logger.WithContext(ctx, log)

	return ctx, func() { cancel(); stop() }, cfg, log
}

func runPipeline(args []string) {
	var common commonFlags
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	common.register(fs)
	fs.Parse(args)

	ctx, cancel, cfg, log := setup(common)
	defer cancel()

	w, err := newWiring(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise pipeline")
	}
	defer w.Close()

	d, err := w.DAG()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build DAG")
	}

	run, err := w.Executor().Execute(ctx, d)
	if run == nil {
		log.Fatal().Err(err).Msg("Pipeline failed to start")
	}
	if rerr := reportRun(ctx, os.Stdout, w.runs, run.RunID); rerr != nil {
		log.Error().Err(rerr).Msg("Failed to read run state")
	}
	if err != nil {
		cancel()
		log.Fatal().Err(err).Str("failed_stage", run.FailedStage).Msg("Pipeline failed")
	}
}

// taskStages maps command names to task ids.
var taskStages = map[string]string{
	"db-ingest":        pipeline.TaskDBIngest,
	"api-call":         pipeline.TaskAPICall,
	"convert-currency": pipeline.TaskConvertCurrency,
}

// taskChecks lists the settings each single-stage command depends on.
var taskChecks = map[string]config.Check{
	"db-ingest":        config.SourceSettings,
	"api-call":         config.RateSettings,
	"convert-currency": config.NormalizeSettings,
}

func runTask(cmd string, args []string) {
	var common commonFlags
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	common.register(fs)
	fs.Parse(args)

	ctx, cancel, cfg, log := setup(common, taskChecks[cmd])
	defer cancel()

	w, err := newWiring(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise pipeline")
	}
	defer w.Close()

	stage, err := w.Stage(taskStages[cmd])
	if err != nil {
		log.Fatal().Err(err).Str("stage", taskStages[cmd]).Msg("Failed to build stage")
	}

	if err := w.Executor().RunStage(ctx, stage); err != nil {
		cancel()
		log.Fatal().Err(err).Str("stage", stage.Name()).Msg("Stage failed")
	}

	fmt.Printf("Stage %s completed successfully.\n", stage.Name())
}

func runInspect(args []string) {
	var common commonFlags
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	common.register(fs)
	name := fs.String("artifact", pipeline.ArtifactResult, "artifact to inspect")
	n := fs.Int("n", 10, "number of rows to print")
	fs.Parse(args)

	cfg, err := config.Load(common.envFile)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithLevel(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), common.timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open artifact store")
	}
	defer store.Close()

	t, err := store.Read(ctx, *name)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Str("artifact", store.Location(*name)).Msg("Failed to read artifact")
	}

	fmt.Printf("\n=== %s ===\n", store.Location(*name))
	fmt.Printf("Columns: %s\n", strings.Join(t.Columns, ", "))
	fmt.Printf("Rows:    %d\n\n", t.Len())
	printTable(os.Stdout, t, *n)
}

// printTable writes the header and the first n rows of t, aligned.
func printTable(out io.Writer, t domain.Table, n int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(t.Columns, "\t"))
	for i, row := range t.Rows {
		if i >= n {
			break
		}
		cells := make([]string, len(row))
		for j, c := range row {
			if c.Valid {
				cells[j] = c.Value
			} else {
				cells[j] = "NULL"
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
	if t.Len() > n {
		fmt.Fprintf(out, "... %d more rows\n", t.Len()-n)
	}
}

// reportRun prints the state the run store holds for runID.
func reportRun(ctx context.Context, out io.Writer, store *inmemory.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	history, err := store.StateHistory(ctx, runID)
	if err != nil {
		return err
	}
	printRun(out, run, history)
	return nil
}

// printRun writes a per-stage summary of run.
func printRun(out io.Writer, run *runs.Run, history []runs.State) {
	fmt.Fprintf(out, "\n=== Run %s ===\n", run.RunID)
	fmt.Fprintf(out, "Pipeline: %s\n", run.Pipeline)
	fmt.Fprintf(out, "State:    %s\n", run.State)
	if len(history) > 0 {
		steps := make([]string, len(history))
		for i, st := range history {
			steps[i] = string(st)
		}
		fmt.Fprintf(out, "History:  %s\n", strings.Join(steps, " -> "))
	}
	if run.FailedStage != "" {
		fmt.Fprintf(out, "Failed:   %s (%s)\n", run.FailedStage, run.Error)
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tATTEMPTS")
	for _, task := range []string{pipeline.TaskDBIngest, pipeline.TaskAPICall, pipeline.TaskConvertCurrency} {
		s, ok := run.Stages[task]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.Name, s.Status, s.Attempts)
	}
	w.Flush()
}
