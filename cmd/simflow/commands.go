package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hupe1980/simflow"
	"github.com/hupe1980/simflow/config"
	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/optimize"
	"github.com/hupe1980/simflow/report"
	"github.com/hupe1980/simflow/solver"
	"github.com/hupe1980/simflow/workflow"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	noColor    bool
}

type app struct {
	flags  globalFlags
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "simflow",
		Short:         "AI assisted engineering simulation workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "HCL configuration file")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "log format (json, text, pretty)")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colored pretty logs")

	root.AddCommand(
		a.workflowCmd(),
		a.optimizeCmd(),
		a.reportCmd(),
		a.execCmd(),
		a.selfCheckCmd(),
		a.pingCmd(),
	)
	return root
}

// setup loads the configuration and wires a SimFlow instance.
func (a *app) setup(cmd *cobra.Command) (*simflow.SimFlow, error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return nil, err
	}
	if a.flags.logLevel != "" {
		cfg.Log.Level = a.flags.logLevel
	}
	if a.flags.logFormat != "" {
		cfg.Log.Format = a.flags.logFormat
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:   logging.ParseLevel(cfg.Log.Level),
		Format:  cfg.Log.Format,
		NoColor: a.flags.noColor,
		Output:  a.stderr,
	}).WithComponent("cli")

	return simflow.New(cmd.Context(), cfg, func(o *simflow.Options) {
		o.Logger = logger
		o.Observer = func(ev core.StepEvent) {
			logger.Debug("step", "run_id", ev.RunID, "stage", string(ev.Stage), "status", string(ev.Status), "duration", ev.Duration)
		}
	})
}

type runFlags struct {
	provider string
	model    string
	problem  string
	params   string
	solver   string
	dataFile string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.provider, "provider", "p", "openai", "AI provider (openai, deepseek, google, anthropic)")
	fs.StringVarP(&f.model, "model", "m", "", "provider model identifier")
	fs.StringVar(&f.problem, "problem", "", "engineering problem description")
	fs.StringVar(&f.params, "params", "{}", "parameters as a JSON object")
	fs.StringVarP(&f.solver, "solver", "s", string(core.SolverPython), "solver backend (python, matlab, abaqus)")
	fs.StringVar(&f.dataFile, "data", "", "optional CSV data file")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("problem")
}

// parse validates the solver and parameter flags before any setup work.
func (f *runFlags) parse() (core.SolverPreference, core.ParameterSet, error) {
	pref, err := core.ParseSolverPreference(f.solver)
	if err != nil {
		return "", nil, err
	}
	params, err := core.ParseParameterSet(f.params)
	if err != nil {
		return "", nil, core.Errorf(core.KindInvalidRequest, "--params: %w", err)
	}
	return pref, params, nil
}

func (a *app) workflowCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run the modeling, review, script, execution and analysis pipeline once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pref, params, err := f.parse()
			if err != nil {
				return err
			}
			sf, err := a.setup(cmd)
			if err != nil {
				return err
			}
			res, err := sf.RunWorkflow(cmd.Context(), workflow.Request{
				Provider:         f.provider,
				Model:            f.model,
				Problem:          f.problem,
				Parameters:       params,
				SolverPreference: pref,
				DataFile:         f.dataFile,
			})
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	f.register(cmd)
	return cmd
}

func (a *app) optimizeCmd() *cobra.Command {
	var (
		f             runFlags
		goal          string
		maxIterations int
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Iterate the workflow until the analysis meets the optimization goal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pref, params, err := f.parse()
			if err != nil {
				return err
			}
			sf, err := a.setup(cmd)
			if err != nil {
				return err
			}
			res, err := sf.RunOptimization(cmd.Context(), optimize.Request{
				Provider:          f.provider,
				Model:             f.model,
				Problem:           f.problem,
				InitialParameters: params,
				SolverPreference:  pref,
				OptimizationGoal:  goal,
				MaxIterations:     maxIterations,
				DataFile:          f.dataFile,
			})
			if res != nil {
				if printErr := a.print(res); printErr != nil {
					return printErr
				}
			}
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&goal, "goal", "g", "", "text the analysis must contain to stop")
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", optimize.DefaultMaxIterations, "iteration budget")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func (a *app) reportCmd() *cobra.Command {
	var (
		provider, modelID, problem string
		input, output              string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a LaTeX report from the JSON result of an optimize or workflow run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if input != "-" {
				f, err := os.Open(input)
				if err != nil {
					return fmt.Errorf("open run result: %w", err)
				}
				defer f.Close()
				in = f
			}
			res, err := report.Decode(in)
			if err != nil {
				return err
			}
			sf, err := a.setup(cmd)
			if err != nil {
				return err
			}
			doc, err := sf.GenerateReport(cmd.Context(), report.Request{
				Provider: provider,
				Model:    modelID,
				Problem:  problem,
				Result:   res,
			})
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(a.stdout, doc)
				return err
			}
			return os.WriteFile(output, []byte(doc+"\n"), 0o644)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&provider, "provider", "p", "openai", "AI provider (openai, deepseek, google, anthropic)")
	fs.StringVarP(&modelID, "model", "m", "", "provider model identifier")
	fs.StringVar(&problem, "problem", "", "engineering problem description")
	fs.StringVarP(&input, "input", "i", "-", "run result JSON file (- for stdin)")
	fs.StringVarP(&output, "output", "o", "", "write the .tex file here instead of stdout")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}

func (a *app) execCmd() *cobra.Command {
	var solverName, params, dataFile string
	cmd := &cobra.Command{
		Use:   "exec script",
		Short: "Run a script directly on a solver backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pref, err := core.ParseSolverPreference(solverName)
			if err != nil {
				return err
			}
			ps, err := core.ParseParameterSet(params)
			if err != nil {
				return core.Errorf(core.KindInvalidRequest, "--params: %w", err)
			}
			script, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(script); err != nil {
				return core.Errorf(core.KindInvalidRequest, "script: %w", err)
			}
			sf, err := a.setup(cmd)
			if err != nil {
				return err
			}
			res, err := sf.Execute(cmd.Context(), pref, solver.Request{
				ScriptPath: script,
				Parameters: ps,
				DataFile:   dataFile,
			})
			if err != nil {
				return err
			}
			if err := a.print(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("%s execution %s", pref, res.Outcome)
			}
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&solverName, "solver", "s", string(core.SolverPython), "solver backend (python, matlab, abaqus)")
	fs.StringVar(&params, "params", "{}", "parameters as a JSON object")
	fs.StringVar(&dataFile, "data", "", "optional CSV data file")
	return cmd
}

func (a *app) selfCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "selfcheck [solver...]",
		Short:     "Verify solver environments (all when none given)",
		ValidArgs: []string{"python", "matlab", "abaqus"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := a.setup(cmd)
			if err != nil {
				return err
			}
			prefs := make([]core.SolverPreference, 0, len(args))
			for _, arg := range args {
				pref, err := core.ParseSolverPreference(arg)
				if err != nil {
					return err
				}
				prefs = append(prefs, pref)
			}
			if len(prefs) == 0 {
				prefs = core.SolverPreferences()
			}

			var failed []string
			for _, pref := range prefs {
				ok, msg, err := sf.SelfCheck(cmd.Context(), pref)
				if err != nil {
					return err
				}
				status := "ok"
				if !ok {
					status = "FAIL"
					failed = append(failed, string(pref))
				}
				fmt.Fprintf(a.stdout, "%-7s %-4s %s\n", pref, status, msg)
			}
			if len(failed) > 0 {
				return fmt.Errorf("self-check failed for %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping provider...",
		Short: "Check that provider endpoints are reachable",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sf, err := a.setup(cmd)
			if err != nil {
				return err
			}
			var failed []string
			for _, p := range args {
				if err := sf.Ping(cmd.Context(), p); err != nil {
					fmt.Fprintf(a.stdout, "%-9s FAIL %v\n", p, err)
					failed = append(failed, p)
					continue
				}
				fmt.Fprintf(a.stdout, "%-9s ok\n", p)
			}
			if len(failed) > 0 {
				return fmt.Errorf("unreachable: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
