// Package agent implements the reason -> act -> observe loop that drives a
// single goal to a terminal state.
//
// A Loop owns its AgentState, a private memory.Store and a step budget. Each
// cycle:
//
//  1. compacts memory when the raw step count exceeds the threshold
//  2. builds a memory window that fits the context budget
//  3. asks the core.Gateway for exactly one Action (retrying transient failures)
//  4. executes tool calls through the executor (retrying idempotent tools)
//  5. records the Step and evaluates termination conditions
//
// Status transitions follow core.CanTransition:
//
//	Idle -> Running -> WaitingOnTool -> Running -> Done | Failed | Aborted
//
// Budget exhaustion and cancellation end in Aborted, never Failed. Step-local
// errors (malformed replies, invalid arguments, tool errors, timeouts) are
// recorded as failed steps and fed back to the gateway; only repeated
// failures past their ceilings or an unrecoverable memory condition end in
// Failed.
//
// Cycles of one loop are strictly sequential. Loops share nothing mutable
// except the read-only tool registry, so many loops may run concurrently (see
// package flow).
package agent
