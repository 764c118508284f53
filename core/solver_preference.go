package core

import "strings"

// SolverPreference selects the solver backend executing a workflow's
// generated script.
type SolverPreference string

const (
	// SolverPython runs scripts in the sandboxed container interpreter.
	SolverPython SolverPreference = "python"
	// SolverMATLAB runs code inside a MATLAB engine session.
	SolverMATLAB SolverPreference = "matlab"
	// SolverAbaqus runs scripts through the licensed Abaqus executable.
	SolverAbaqus SolverPreference = "abaqus"
)

// SolverPreferences lists the supported preferences in a stable order.
func SolverPreferences() []SolverPreference {
	return []SolverPreference{SolverPython, SolverMATLAB, SolverAbaqus}
}

// ParseSolverPreference normalizes s and validates it against the closed set.
func ParseSolverPreference(s string) (SolverPreference, error) {
	p := SolverPreference(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate reports an InvalidSolverPreference error for unknown values.
func (p SolverPreference) Validate() error {
	switch p {
	case SolverPython, SolverMATLAB, SolverAbaqus:
		return nil
	}
	return NewError(KindInvalidSolverPreference, "Invalid solver preference: "+string(p)).
		WithHint("use one of python, matlab or abaqus")
}

func (p SolverPreference) String() string { return string(p) }
