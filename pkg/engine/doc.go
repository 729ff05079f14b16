// Package engine schedules the processing steps of an InSAR stack run.
// Steps execute strictly in dependency order; a single step may fan out
// over several worker processes.
//
// # Execution model
//
// A Plan is a list of Steps with explicit dependencies. The DAGBuilder adds
// every step to a directed acyclic graph (edges run from a dependency to its
// dependent), rejects cycles and unknown dependencies, and yields a stable
// topological order; independent steps keep their Position order.
//
// The Scheduler walks that order one step at a time:
//
//   - a step runs its Action, retrying transient and throttled errors with
//     exponential backoff up to MaxRetries
//   - a step with an Expander yields child steps once it succeeded; they run
//     immediately after it (used for run files that only exist after the
//     stack processor ran)
//   - the first failing step ends the run, every later step is marked
//     skipped, or cancelled when the context was cancelled
//
// Every transition is logged, persisted through the StateManager, published
// as an Event and timed into metrics inside a trace span.
//
// # Error classification
//
//   - Transient: dropped SSH connections, unreachable providers; retried
//   - Throttled: rate limiting by a data provider; retried with longer backoff
//   - Permanent: bad templates, missing files, non-zero exits; never retried
package engine
