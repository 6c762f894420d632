package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/logging"
)

// Options configures a Store.
type Options struct {
	// Capacity bounds the raw step buffer. Append fails with
	// core.ErrMemoryCapacity when it is reached.
	Capacity int
	// Threshold is T: summarization is due once the raw count exceeds it and
	// the most recent T/2 raw steps always survive a summarization.
	Threshold int
	// Summarizer writes the narrative text of records. Defaults to ExtractiveSummarizer.
	Summarizer core.Summarizer
	// Archive receives collapsed steps. Optional.
	Archive core.Archive
	// LoopID keys archived steps.
	LoopID string
	// Goal is passed to the summarizer.
	Goal   core.Goal
	Logger logging.Logger
}

// DefaultOptions returns the defaults used by NewStore.
func DefaultOptions() Options {
	return Options{
		Capacity:   64,
		Threshold:  16,
		Summarizer: ExtractiveSummarizer{},
		Logger:     logging.NoOpLogger{},
	}
}

// Store is the per-loop step memory. It is safe for concurrent readers while
// the owning loop appends.
type Store struct {
	opts Options

	mu      sync.RWMutex
	raw     []core.Step
	summary *core.MemoryRecord
	total   int
	last    int
}

// NewStore creates an empty Store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Threshold < 2 {
		opts.Threshold = 2
	}
	if opts.Capacity <= opts.Threshold {
		opts.Capacity = opts.Threshold + 1
	}
	if opts.Summarizer == nil {
		opts.Summarizer = ExtractiveSummarizer{}
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Store{opts: opts, raw: make([]core.Step, 0, opts.Capacity)}
}

// Append records a step. Indices must continue the sequence without gaps.
func (s *Store) Append(step core.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.raw) >= s.opts.Capacity {
		return fmt.Errorf("%w: %d raw steps", core.ErrMemoryCapacity, len(s.raw))
	}
	if step.Index != s.last+1 {
		return fmt.Errorf("memory: step index %d does not follow %d", step.Index, s.last)
	}
	if step.Err != nil && step.Result != nil {
		return fmt.Errorf("memory: step %d carries both result and error", step.Index)
	}
	if (step.Err != nil) != step.Outcome.Failed() {
		return fmt.Errorf("memory: step %d outcome %q does not match its error", step.Index, step.Outcome)
	}

	s.raw = append(s.raw, step)
	s.last = step.Index
	s.total++
	return nil
}

// NeedsSummary reports whether the raw count exceeds the threshold.
func (s *Store) NeedsSummary() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raw) > s.opts.Threshold
}

// Full reports whether the raw buffer is at capacity.
func (s *Store) Full() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raw) >= s.opts.Capacity
}

// Summarize collapses the oldest count-T/2 raw steps into the summary
// record, folding in any previous record. It is a no-op returning the
// current summary when at most T/2 raw steps exist. On error the store is
// unchanged.
func (s *Store) Summarize(ctx context.Context) (*core.MemoryRecord, error) {
	s.mu.RLock()
	keep := s.opts.Threshold / 2
	if len(s.raw) <= keep {
		rec := cloneRecord(s.summary)
		s.mu.RUnlock()
		return rec, nil
	}
	n := len(s.raw) - keep
	collapsed := slices.Clone(s.raw[:n])
	prev := cloneRecord(s.summary)
	s.mu.RUnlock()

	text, err := s.opts.Summarizer.Summarize(ctx, core.SummaryInput{
		Goal:     s.opts.Goal,
		Previous: prev,
		Steps:    collapsed,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: summarize: %w", err)
	}

	if s.opts.Archive != nil {
		archived := make([]core.ArchivedStep, 0, len(collapsed))
		for _, st := range collapsed {
			archived = append(archived, core.ArchiveStep(s.opts.LoopID, st))
		}
		if err := s.opts.Archive.Store(ctx, s.opts.LoopID, archived); err != nil {
			return nil, fmt.Errorf("memory: archive: %w", err)
		}
	}

	rec := buildRecord(prev, collapsed, text)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Only the owning loop appends, so the collapsed prefix is unchanged.
	s.raw = append(s.raw[:0:0], s.raw[n:]...)
	s.summary = rec

	s.opts.Logger.Debug("memory.summarized",
		"loop_id", s.opts.LoopID,
		"from", rec.FromIndex,
		"to", rec.ToIndex,
		"generation", rec.Generation,
		"raw", len(s.raw),
	)
	return cloneRecord(rec), nil
}

// Window returns the summary plus the most recent n raw steps (all when n <= 0).
func (s *Store) Window(n int) core.MemoryWindow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > 0 && n < len(s.raw) {
		cut := len(s.raw) - n
		return core.MemoryWindow{
			Summary: FoldIntoView(s.summary, s.raw[:cut]),
			Steps:   slices.Clone(s.raw[cut:]),
		}
	}
	return core.MemoryWindow{Summary: cloneRecord(s.summary), Steps: slices.Clone(s.raw)}
}

// Steps returns a copy of the raw steps.
func (s *Store) Steps() []core.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.raw)
}

// Summary returns a copy of the current record (nil when none).
func (s *Store) Summary() *core.MemoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRecord(s.summary)
}

// Len returns the number of raw steps.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raw)
}

// Total returns the number of steps ever appended.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// LastIndex returns the index of the most recent step (0 when empty).
func (s *Store) LastIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Threshold returns T.
func (s *Store) Threshold() int { return s.opts.Threshold }

func buildRecord(prev *core.MemoryRecord, collapsed []core.Step, text string) *core.MemoryRecord {
	rec := &core.MemoryRecord{
		FromIndex: collapsed[0].Index,
		ToIndex:   collapsed[len(collapsed)-1].Index,
		Text:      text,
		Outcomes:  make([]core.StepDigest, 0, len(collapsed)),
	}
	var pending []core.StepDigest
	if prev != nil {
		rec.FromIndex = prev.FromIndex
		rec.Generation = prev.Generation
		rec.Outcomes = append(rec.Outcomes, prev.Outcomes...)
		pending = append(pending, prev.UnresolvedErrors...)
	}
	rec.Generation++

	for _, st := range collapsed {
		d := st.Digest()
		rec.Outcomes = append(rec.Outcomes, d)
		if st.Failed() {
			pending = append(pending, d)
			continue
		}
		if d.Tool == "" {
			continue
		}
		// A success resolves earlier failures of the same tool.
		pending = slices.DeleteFunc(pending, func(p core.StepDigest) bool { return p.Tool == d.Tool })
	}
	if len(pending) > 0 {
		rec.UnresolvedErrors = pending
	}
	return rec
}

// FoldIntoView returns a copy of rec extended with the digests of steps
// dropped from a window view, so their outcomes and unresolved errors stay
// visible. Steps rec already covers are skipped. rec is not modified and the
// store is left untouched.
func FoldIntoView(rec *core.MemoryRecord, dropped []core.Step) *core.MemoryRecord {
	fresh := make([]core.Step, 0, len(dropped))
	for _, st := range dropped {
		if !rec.Covers(st.Index) {
			fresh = append(fresh, st)
		}
	}
	if len(fresh) == 0 {
		return cloneRecord(rec)
	}
	text, generation := "", 0
	if rec != nil {
		text, generation = rec.Text, rec.Generation
	}
	out := buildRecord(rec, fresh, text)
	out.Generation = generation
	return out
}

func cloneRecord(r *core.MemoryRecord) *core.MemoryRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Outcomes = slices.Clone(r.Outcomes)
	c.UnresolvedErrors = slices.Clone(r.UnresolvedErrors)
	return &c
}
