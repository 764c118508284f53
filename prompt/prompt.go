package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"
	"text/template/parse"

	"github.com/hupe1980/simflow/core"
)

// Template identifiers used by the workflow, the optimization loop and the
// report generator.
const (
	Modeling           = "modeling"
	ModelReview        = "model_review"
	Analysis           = "analysis"
	OptimizeParameters = "optimize_parameters"
	LatexReport        = "latex_report"
)

// SimulationScript returns the script generation template id for a solver.
func SimulationScript(solver core.SolverPreference) string {
	return "simulation_script_" + string(solver)
}

// Renderer turns a template id plus fields into a prompt.
type Renderer interface {
	Render(templateID string, fields map[string]string) (string, error)
}

var defaultTemplates = map[string]string{
	Modeling:    "Problem: {{.problem}}\nParameters: {{.parameters}}",
	ModelReview: "Modeling Result:\n{{.modeling_result}}",
	Analysis:    "Solver: {{.solver}}\nOutput:\n{{.output}}",
	OptimizeParameters: `Optimization goal: {{.optimization_goal}}

Simulation results:
{{.simulation_results}}

Current parameters:
{{.current_parameters}}

Respond with a single JSON object containing only the parameters to change.`,
	LatexReport: `Problem: {{.problem}}

Final status: {{.final_status}}

Iteration history:

{{.iteration_history}}
Write the report as a complete LaTeX document.`,
}

func init() {
	for _, s := range core.SolverPreferences() {
		defaultTemplates[SimulationScript(s)] = "Modeling Result:\n{{.modeling_result}}\nParameters: {{.parameters}}"
	}
}

type entry struct {
	tmpl     *template.Template
	required []string
}

// TemplateRenderer is a concurrency-safe registry of text templates.
type TemplateRenderer struct {
	mu        sync.RWMutex
	templates map[string]entry
}

// NewTemplateRenderer returns a renderer preloaded with the built-in templates.
func NewTemplateRenderer() *TemplateRenderer {
	r := &TemplateRenderer{templates: make(map[string]entry, len(defaultTemplates))}
	for id, text := range defaultTemplates {
		if err := r.Register(id, text); err != nil {
			panic(fmt.Sprintf("prompt: built-in template %s: %v", id, err))
		}
	}
	return r
}

// Register adds or replaces a template. Every {{.field}} referenced by the
// body becomes a required field.
func (r *TemplateRenderer) Register(id, text string) error {
	tmpl, err := template.New(id).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[id] = entry{tmpl: tmpl, required: requiredFields(tmpl)}
	return nil
}

// LoadDir registers every *.tmpl file of dir under its base name without
// extension, overriding built-ins of the same id. dir must exist.
func (r *TemplateRenderer) LoadDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("template dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template dir %s: not a directory", dir)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.tmpl"))
	if err != nil {
		return err
	}
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		id := strings.TrimSuffix(filepath.Base(path), ".tmpl")
		if err := r.Register(id, string(b)); err != nil {
			return err
		}
	}
	return nil
}

// Required returns the sorted field names a template needs.
func (r *TemplateRenderer) Required(id string) ([]string, error) {
	r.mu.RLock()
	e, ok := r.templates[id]
	r.mu.RUnlock()
	if !ok {
		return nil, templateNotFound(id)
	}
	return append([]string(nil), e.required...), nil
}

// Render executes the template. Unknown ids fail with TemplateNotFound and the
// first absent required field fails with MissingField.
func (r *TemplateRenderer) Render(id string, fields map[string]string) (string, error) {
	r.mu.RLock()
	e, ok := r.templates[id]
	r.mu.RUnlock()
	if !ok {
		return "", templateNotFound(id)
	}

	for _, name := range e.required {
		if _, ok := fields[name]; !ok {
			return "", core.Errorf(core.KindMissingField, "missing field %q for template %s", name, id)
		}
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("render template %s: %w", id, err)
	}
	return buf.String(), nil
}

func templateNotFound(id string) error {
	return core.Errorf(core.KindTemplateNotFound, "template %q not found", id)
}

var funcs = template.FuncMap{
	"default": func(defaultVal, val string) string {
		if val == "" {
			return defaultVal
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// requiredFields collects the top-level field names referenced by the template.
func requiredFields(t *template.Template) []string {
	seen := map[string]struct{}{}
	for _, tt := range t.Templates() {
		if tt.Tree != nil {
			walk(tt.Tree.Root, seen)
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func walk(node parse.Node, seen map[string]struct{}) {
	switch n := node.(type) {
	case nil:
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			walk(c, seen)
		}
	case *parse.ActionNode:
		walk(n.Pipe, seen)
	case *parse.PipeNode:
		if n == nil || hasDefault(n) {
			return
		}
		for _, cmd := range n.Cmds {
			walk(cmd, seen)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			walk(arg, seen)
		}
	case *parse.FieldNode:
		seen[n.Ident[0]] = struct{}{}
	case *parse.IfNode:
		walk(n.Pipe, seen)
		walk(n.List, seen)
		walk(n.ElseList, seen)
	case *parse.RangeNode:
		// dot is rebound inside the body
		walk(n.Pipe, seen)
		walk(n.ElseList, seen)
	case *parse.WithNode:
		walk(n.Pipe, seen)
		walk(n.ElseList, seen)
	case *parse.TemplateNode:
		walk(n.Pipe, seen)
	}
}

// hasDefault reports whether a pipeline falls back through the default
// helper; fields it references are optional.
func hasDefault(p *parse.PipeNode) bool {
	for _, cmd := range p.Cmds {
		if len(cmd.Args) == 0 {
			continue
		}
		if id, ok := cmd.Args[0].(*parse.IdentifierNode); ok && id.Ident == "default" {
			return true
		}
	}
	return false
}
