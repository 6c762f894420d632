// Package flow runs several agent loops for one composite goal and merges
// their answers.
//
// Every sub-goal gets its own loop and memory store; the tool registry and
// gateway are shared read-only. Loops run concurrently with an optional
// parallelism limit. A failed loop never cancels its siblings: the run is
// complete when every loop reached Done, partial when at least one did, and
// failed otherwise. Answers are merged in sub-goal submission order.
package flow
