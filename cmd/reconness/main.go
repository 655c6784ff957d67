package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lightangel1412/reconness/internal/engine"
	"github.com/lightangel1412/reconness/internal/log"
	"github.com/lightangel1412/reconness/internal/model"
	"github.com/lightangel1412/reconness/internal/sched"
	"github.com/lightangel1412/reconness/internal/script"
	"github.com/lightangel1412/reconness/internal/store"
)

var (
	configPath string // actual config file used
	config     model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagTarget    string
	flagSubdomain string
	flagAgent     string
	flagAll       bool

	flagScriptFile string
	flagSampleFile string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is reconness.yaml in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initReconness

	runCmd.Flags().StringVar(&flagTarget, "target", "", "target name")
	runCmd.Flags().StringVar(&flagSubdomain, "subdomain", "", "subdomain name")
	runCmd.Flags().StringVar(&flagAgent, "agent", "", "agent name")
	runCmd.Flags().BoolVar(&flagAll, "all-subdomains", false, "run the agent against every subdomain of the target")

	debugCmd.Flags().StringVar(&flagScriptFile, "script", "", "script file to evaluate")
	debugCmd.Flags().StringVar(&flagSampleFile, "sample", "", "file with sample terminal output, - for stdin")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("reconness failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "reconness",
	Short:        "Runs recon agents against targets and turns their output into findings",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes one agent against a target or its subdomains and waits for the results",
	RunE:  doRun,
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "debug evaluates a script against sample output without touching any target",
	RunE:  doDebug,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve keeps running the schedules from the configuration until interrupted",
	RunE:  doServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of reconness",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("reconness: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("reconness: %s\n", info.Main.Version)
		fmt.Printf("go:        %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if flagTarget == "" || flagAgent == "" {
		return fmt.Errorf("both --target and --agent are required")
	}
	if flagAll && flagSubdomain != "" {
		return fmt.Errorf("--all-subdomains and --subdomain are mutually exclusive")
	}

	ctx = log.ContextAttrs(ctx, slog.String("cmd", "run"))

	db, err := store.FromConfig(config)
	if err != nil {
		return err
	}
	e := engine.New(db, db)

	if flagAll {
		accepted, err := e.RunAllSubdomains(ctx, flagTarget, flagAgent)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "runs accepted", "count", accepted)
	} else {
		if err := e.Run(ctx, flagTarget, flagSubdomain, flagAgent); err != nil {
			return err
		}
	}

	// first interrupt stops the in-flight runs, results still arrive
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		for _, key := range e.Active() {
			if err := e.Stop(ctx, key.Target, key.Subdomain, key.Agent); err != nil {
				slog.WarnContext(ctx, "stopping run", "key", key.String(), "error", err)
			}
		}
	}()

	e.Wait()
	stop()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, rec := range db.Runs() {
		if err := enc.Encode(runReport(rec)); err != nil {
			return err
		}
	}
	return nil
}

type report struct {
	Run       string         `json:"run"`
	Status    string         `json:"status"`
	Output    []string       `json:"output,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	ScriptErr string         `json:"scriptError,omitempty"`
}

func runReport(rec model.RunRecord) report {
	return report{
		Run:       rec.Key.String(),
		Status:    string(rec.Status),
		Output:    rec.Output,
		Result:    rec.Result.Values,
		ScriptErr: rec.ScriptErr,
	}
}

func doDebug(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if flagScriptFile == "" {
		return fmt.Errorf("--script is required")
	}

	source, err := os.ReadFile(flagScriptFile)
	if err != nil {
		return fmt.Errorf("reading script: %w", err)
	}

	var sample []byte
	switch flagSampleFile {
	case "", "-":
		sample, err = io.ReadAll(os.Stdin)
	default:
		sample, err = os.ReadFile(flagSampleFile)
	}
	if err != nil {
		return fmt.Errorf("reading sample: %w", err)
	}

	eval := script.NewEvaluator()
	result, err := eval.Evaluate(ctx, string(source), string(sample))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	// a script failure is a result for the operator, not a command failure
	var serr *script.Error
	if errors.As(err, &serr) {
		return enc.Encode(map[string]string{"scriptError": serr.Message})
	}
	if err != nil {
		return err
	}
	return enc.Encode(result.Values)
}

func doServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if len(config.Schedules) == 0 {
		return fmt.Errorf("no schedules in configuration")
	}

	ctx = log.ContextAttrs(ctx, slog.String("cmd", "serve"))

	db, err := store.FromConfig(config)
	if err != nil {
		return err
	}
	e := engine.New(db, db)

	scheduler, err := sched.New(ctx, config.Schedules, e)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start()
	slog.InfoContext(ctx, "serving schedules", "count", len(config.Schedules))
	<-sigCtx.Done()

	if err := scheduler.Shutdown(); err != nil {
		slog.WarnContext(ctx, "scheduler shutdown", "error", err)
	}
	for _, key := range e.Active() {
		if err := e.Stop(ctx, key.Target, key.Subdomain, key.Agent); err != nil {
			slog.WarnContext(ctx, "stopping run", "key", key.String(), "error", err)
		}
	}
	e.Wait()
	return nil
}

func initReconness(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("RECONNESSCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else if exists("reconness.yaml") {
		configPath = "reconness.yaml"
	}

	if configPath == "" {
		config = model.DefaultConfig()
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		cfg, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d)
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		if err := cfg.ResolveScripts(filepath.Dir(configPath)); err != nil {
			return err
		}
		config = *cfg
	}

	// --verbose has a precedence over config file
	verbose := flagVerbose
	if config.Verbose != nil && *config.Verbose {
		verbose = true
	}
	slog.SetDefault(log.New(verbose))

	slog.Debug("reconness start", "configPath", configPath)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
