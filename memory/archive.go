package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentloop/core"
)

// RenderArchived is the text form of an archived step used for search and recall.
func RenderArchived(a core.ArchivedStep) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s -> %s", a.Index, a.Action, a.Outcome)
	if a.Err != nil {
		b.WriteString(": ")
		b.WriteString(a.Err.Message)
	} else if a.Result != "" {
		b.WriteString(": ")
		b.WriteString(a.Result)
	}
	return b.String()
}

// MatchArchived reports whether an archived step matches a case-insensitive
// substring query. An empty query matches everything.
func MatchArchived(a core.ArchivedStep, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(RenderArchived(a)), strings.ToLower(query))
}

// SearchResultFor converts an archived step into a search hit.
func SearchResultFor(a core.ArchivedStep) core.SearchResult {
	return core.SearchResult{
		ID:      fmt.Sprintf("%s/%d", a.LoopID, a.Index),
		Content: RenderArchived(a),
		Score:   1.0,
		Metadata: map[string]any{
			"loop_id": a.LoopID,
			"index":   a.Index,
			"tool":    a.Tool,
			"outcome": string(a.Outcome),
		},
	}
}

// InMemoryArchive is a naive process-local archive.
//
// Concurrency: protected by RWMutex.
// Search: linear scan with case-insensitive substring matching, most recent
// steps first, constant score of 1.0. Suitable for tests and local runs.
type InMemoryArchive struct {
	mu    sync.RWMutex
	steps map[string][]core.ArchivedStep // loopID -> steps ordered by index
}

var _ core.Archive = (*InMemoryArchive)(nil)

// NewInMemoryArchive creates an empty archive.
func NewInMemoryArchive() *InMemoryArchive {
	return &InMemoryArchive{steps: make(map[string][]core.ArchivedStep)}
}

// Store appends steps for loopID, keeping them ordered by index.
func (m *InMemoryArchive) Store(_ context.Context, loopID string, steps []core.ArchivedStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.steps[loopID], steps...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	m.steps[loopID] = list
	return nil
}

// List returns a copy of the archived steps for loopID.
func (m *InMemoryArchive) List(_ context.Context, loopID string) ([]core.ArchivedStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.ArchivedStep(nil), m.steps[loopID]...), nil
}

// Search returns up to limit matches, most recent first.
func (m *InMemoryArchive) Search(_ context.Context, loopID, query string, limit int) ([]core.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.steps[loopID]
	results := make([]core.SearchResult, 0)
	for i := len(list) - 1; i >= 0; i-- {
		if limit > 0 && len(results) >= limit {
			break
		}
		if MatchArchived(list[i], query) {
			results = append(results, SearchResultFor(list[i]))
		}
	}
	return results, nil
}

// Close implements core.Archive.
func (m *InMemoryArchive) Close() error { return nil }
