// Package report turns the history of a finished run into a LaTeX report
// written by an AI provider.
//
// The iteration history is serialized into markdown sections (parameters,
// modeling, review, script, solver output and errors, analysis) and rendered
// through the latex_report template. A surrounding ```latex fence in the
// block in the answer is extracted, so the returned text is the bare
// document.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hupe1980/simflow/core"
	"github.com/hupe1980/simflow/gateway"
	"github.com/hupe1980/simflow/logging"
	"github.com/hupe1980/simflow/prompt"
)

// Request describes the report to write.
type Request struct {
	Provider string
	Model    string
	Problem  string
	Result   *core.OptimizationResult
}

// Options configure a Generator.
type Options struct {
	Renderer prompt.Renderer
	Logger   logging.Logger
}

// Generator writes reports through a gateway caller.
type Generator struct {
	caller gateway.Caller
	opts   Options
}

// New creates a Generator.
func New(caller gateway.Caller, optFns ...func(o *Options)) *Generator {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Renderer == nil {
		opts.Renderer = prompt.NewTemplateRenderer()
	}
	return &Generator{caller: caller, opts: opts}
}

// Generate renders the history prompt, calls the provider and returns the
// LaTeX source.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Problem) == "" {
		return "", core.NewError(core.KindInvalidRequest, "problem must not be empty")
	}
	if req.Result == nil {
		return "", core.NewError(core.KindInvalidRequest, "a run result is required")
	}

	p, err := g.opts.Renderer.Render(prompt.LatexReport, map[string]string{
		"problem":           req.Problem,
		"final_status":      FinalStatus(req.Result),
		"iteration_history": History(req.Result.History),
	})
	if err != nil {
		return "", stageError(err)
	}

	start := time.Now()
	text, err := g.caller.Call(ctx, req.Provider, req.Model, p)
	if err != nil {
		g.opts.Logger.Error("Report generation failed", "run_id", req.Result.RunID, "error", err.Error())
		return "", stageError(err)
	}
	g.opts.Logger.Info("Report generated", "run_id", req.Result.RunID, "iterations", len(req.Result.History), "duration", time.Since(start))

	if doc, ok := prompt.ExtractFenced(text, "latex"); ok {
		return doc, nil
	}
	return prompt.StripCodeFence(text), nil
}

func stageError(err error) error {
	if ce, ok := err.(*core.Error); ok {
		return ce.WithStage(core.StageReport)
	}
	return fmt.Errorf("%s step failed: %w", core.StageReport, err)
}

// FinalStatus summarizes the outcome of a run in one line.
func FinalStatus(res *core.OptimizationResult) string {
	if res.Message == "" {
		return string(res.Status)
	}
	return fmt.Sprintf("%s: %s", res.Status, res.Message)
}

// History serializes iteration records into markdown sections. Empty
// sections are omitted.
func History(records []core.IterationRecord) string {
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "### Iteration %d\n\n", rec.Iteration)
		if params, err := rec.Parameters.JSON(); err == nil && len(rec.Parameters) > 0 {
			section(&b, "Parameters", "json", params)
		}
		if r := rec.Result; r != nil {
			section(&b, "Modeling Result", "", r.ModelingResult)
			section(&b, "Model Review", "", r.ModelReviewResult)
			section(&b, "Simulation Script", "", r.SimulationScript)
			section(&b, "Execution Output", "", r.ExecutionResult.Output)
			section(&b, "Execution Error", "", r.ExecutionResult.Error)
			if r.ExecutionResult.Image != nil {
				b.WriteString("**Image Generated:** plot.png\n\n")
			}
			section(&b, "Analysis", "", r.AnalysisResult)
		}
		section(&b, "Iteration Error", "", rec.Error)
		b.WriteString("---\n\n")
	}
	return b.String()
}

func section(b *strings.Builder, title, lang, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	fmt.Fprintf(b, "**%s:**\n```%s\n%s\n```\n\n", title, lang, body)
}

// Decode reads a run result as printed by the optimize or workflow commands.
// A single workflow result becomes a one iteration history.
func Decode(r io.Reader) (*core.OptimizationResult, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read run result: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, core.Errorf(core.KindInvalidRequest, "decode run result: %w", err)
	}

	if _, ok := raw["history"]; ok {
		var res core.OptimizationResult
		if err := json.Unmarshal(b, &res); err != nil {
			return nil, core.Errorf(core.KindInvalidRequest, "decode optimization result: %w", err)
		}
		return &res, nil
	}

	if _, ok := raw["modeling_result"]; ok {
		var wr core.WorkflowResult
		if err := json.Unmarshal(b, &wr); err != nil {
			return nil, core.Errorf(core.KindInvalidRequest, "decode workflow result: %w", err)
		}
		return &core.OptimizationResult{
			RunID:   wr.RunID,
			Status:  core.StatusSuccess,
			Message: "Single workflow run completed.",
			History: []core.IterationRecord{{Iteration: 1, Result: &wr}},
		}, nil
	}

	return nil, core.NewError(core.KindInvalidRequest, "input is neither an optimization nor a workflow result")
}
