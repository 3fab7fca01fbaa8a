// Package core provides the foundational domain types and interfaces used by
// agentrelay. It defines the core abstractions for:
//
//   - Sessions (stateful conversation handles bound to an agent runtime)
//   - Tasks and AgentResults (units of orchestrated work and their outcomes)
//   - Workflows (registered task sets with an execution strategy)
//   - Permissions (runtime-originated approval requests)
//   - The RuntimeClient contract for the external agent runtime
//   - Typed lifecycle events for sessions and workflow executions
//
// The package intentionally keeps implementation concerns (session state
// machines, pooling, engine orchestration, concrete runtime clients) out of
// scope, exposing small types and interfaces so higher layers stay decoupled.
package core
