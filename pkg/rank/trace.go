package rank

import (
	"sort"
	"sync"
)

type TraceEventKind string

const (
	TraceEventVectorLookup      TraceEventKind = "vector_lookup"
	TraceEventTraversal         TraceEventKind = "graph_traversal"
	TraceEventCandidatePartial  TraceEventKind = "candidate_partial"
	TraceEventCandidateExcluded TraceEventKind = "candidate_excluded"
)

// TraceEvent is an extensible event envelope for ranking traces.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	Target     string
	Candidates []string
	Requested  int
	Scored     int
	Edges      int
	Missing    []string

	DurationMs int64
	Error      string
}

// Tracer is a sink for ranking events.
//
// Implementers can forward events to logs or keep them for auditing why a
// candidate ended up where it did.
type Tracer interface {
	Record(event TraceEvent)
}

func recordVectorLookup(t Tracer, target string, requested, scored int, ms int64, err error) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventVectorLookup, Target: target, Requested: requested, Scored: scored, DurationMs: ms, Error: errString(err)})
}

func recordTraversal(t Tracer, start string, edges int, ms int64, err error) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventTraversal, Target: start, Edges: edges, DurationMs: ms, Error: errString(err)})
}

func recordPartial(t Tracer, candidate string, missing []string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCandidatePartial, Candidates: []string{candidate}, Missing: missing})
}

func recordExcluded(t Tracer, candidate, reason string) {
	if t == nil {
		return
	}
	t.Record(TraceEvent{Kind: TraceEventCandidateExcluded, Candidates: []string{candidate}, Error: reason})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// RankTrace collects the events of one ranking run.
//
// RankTrace is safe for concurrent use.
type RankTrace struct {
	mu sync.Mutex

	lookups    []TraceEvent
	traversals []TraceEvent
	partial    map[string][]string
	excluded   map[string]string
}

type RankTraceSnapshot struct {
	VectorLookups []TraceEvent        `json:"vector_lookups"`
	Traversals    []TraceEvent        `json:"traversals"`
	Partial       map[string][]string `json:"partial,omitempty"`
	Excluded      map[string]string   `json:"excluded,omitempty"`
	PartialIDs    []string            `json:"partial_ids,omitempty"`
	ExcludedIDs   []string            `json:"excluded_ids,omitempty"`
}

func NewRankTrace() *RankTrace {
	return &RankTrace{
		partial:  make(map[string][]string),
		excluded: make(map[string]string),
	}
}

func (t *RankTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventVectorLookup:
		t.lookups = append(t.lookups, event)
	case TraceEventTraversal:
		t.traversals = append(t.traversals, event)
	case TraceEventCandidatePartial:
		for _, id := range event.Candidates {
			t.partial[id] = event.Missing
		}
	case TraceEventCandidateExcluded:
		for _, id := range event.Candidates {
			t.excluded[id] = event.Error
		}
	}
}

func (t *RankTrace) Snapshot() RankTraceSnapshot {
	if t == nil {
		return RankTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := RankTraceSnapshot{
		VectorLookups: append([]TraceEvent(nil), t.lookups...),
		Traversals:    append([]TraceEvent(nil), t.traversals...),
		Partial:       make(map[string][]string, len(t.partial)),
		Excluded:      make(map[string]string, len(t.excluded)),
	}
	for id, missing := range t.partial {
		s.Partial[id] = missing
		s.PartialIDs = append(s.PartialIDs, id)
	}
	for id, reason := range t.excluded {
		s.Excluded[id] = reason
		s.ExcludedIDs = append(s.ExcludedIDs, id)
	}
	sort.Strings(s.PartialIDs)
	sort.Strings(s.ExcludedIDs)
	return s
}
