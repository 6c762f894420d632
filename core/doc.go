// Package core provides the foundational domain types and contracts used by
// agentloop. It defines the abstractions for:
//
//   - Goals (immutable objectives owned by a run)
//   - Actions (the closed set of decisions a Gateway may emit)
//   - Steps (immutable records of one reason/act/observe cycle)
//   - Tool contracts (name, schema, idempotency class, executor)
//   - Memory windows and summary records handed to the Gateway
//   - Agent state, terminal results and the error taxonomy
//
// Implementation concerns (registry, memory, executor, loop, flow) live in
// their own packages and depend on the small interfaces declared here.
package core
