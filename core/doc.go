// Package core provides the foundational domain types shared by every
// simflow component. It defines:
//
//   - ParameterSet (the evolving key/value configuration of a run)
//   - ExecutionResult / WorkflowResult / IterationRecord / OptimizationResult
//   - SolverPreference (closed set of solver backends)
//   - Error and Kind (the structured error taxonomy surfaced to callers)
//   - StepEvent (observable pipeline progress) and CallLimiter
//
// The package holds no behavior that talks to the outside
// world. Providers, solvers and orchestration live in their own packages and
// exchange the values defined here.
package core
