package agent

import (
	"fmt"

	"github.com/hupe1980/agentloop/core"
)

// failureTracker counts consecutive failures for the loop-fatal ceilings.
type failureTracker struct {
	malformedCeiling int
	unknownCeiling   int
	identicalCeiling int

	malformed int
	unknown   int
	repeats   int
	signature string
}

func newFailureTracker(o Options) *failureTracker {
	return &failureTracker{
		malformedCeiling: o.MalformedCeiling,
		unknownCeiling:   o.UnknownToolCeiling,
		identicalCeiling: o.IdenticalFailureCeiling,
	}
}

// observe updates the counters with a step and returns a termination reason
// and diagnostic once a ceiling is reached.
func (t *failureTracker) observe(s core.Step) (string, string) {
	if s.Outcome == core.OutcomeGatewayMalformed {
		t.malformed++
	} else {
		t.malformed = 0
	}
	if s.Outcome == core.OutcomeUnknownTool {
		t.unknown++
	} else {
		t.unknown = 0
	}

	switch sig := s.Signature(); {
	case sig == "":
		t.repeats, t.signature = 0, ""
	case sig == t.signature:
		t.repeats++
	default:
		t.repeats, t.signature = 1, sig
	}

	switch {
	case t.malformed >= t.malformedCeiling:
		return core.ReasonMalformedCeiling,
			fmt.Sprintf("%d consecutive malformed gateway responses: %s", t.malformed, s.Err.Message)
	case t.unknown >= t.unknownCeiling:
		return core.ReasonUnknownToolCeiling,
			fmt.Sprintf("%d consecutive calls to unregistered tools: %s", t.unknown, s.Err.Message)
	case t.repeats >= t.identicalCeiling:
		return core.ReasonRepeatedFailure,
			fmt.Sprintf("identical failure repeated %d times: %s", t.repeats, s.Err.Error())
	}
	return "", ""
}
