// Package pipeline implements the staged analysis engine.
//
// A run walks a fixed, ordered registry of stages. Each stage issues exactly
// one reasoning-service call, built from the immutable pipeline context and
// the outputs of earlier stages, and persists its validated output to the run
// ledger before the next stage starts. Failures stop the run at the failing
// stage; the persisted outputs seed a later resume.
//
// The package is organized around five pieces:
//   - context.go: assembles the immutable per-run snapshot
//   - registry.go: the stage table with per-stage request builders
//   - executor.go: runs one stage attempt against the reasoning service
//   - orchestrator.go: the sequential fail-fast state machine
//   - assembler.go: merges stage outputs into the unified result
package pipeline
