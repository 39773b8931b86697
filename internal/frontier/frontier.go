// Package frontier holds discovered-but-unfetched URL records and decides
// dispatch order. BFS and DFS share one implementation: the traversal mode
// only selects the priority comparator, so admission and budget logic is
// written once.
package frontier

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/domain"
)

// Mode selects the traversal order.
type Mode int

const (
	// ModeBFS dispatches in strict breadth order: (depth, discovery sequence).
	ModeBFS Mode = iota
	// ModeDFS dispatches most-recently-discovered first, depth-capped.
	ModeDFS
)

// String returns the mode's config spelling.
func (m Mode) String() string {
	if m == ModeDFS {
		return "dfs"
	}

	return "bfs"
}

// ParseMode parses a traversal mode from config.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "bfs", "":
		return ModeBFS, nil
	case "dfs":
		return ModeDFS, nil
	default:
		return ModeBFS, fmt.Errorf("frontier: unknown traversal mode %q", s)
	}
}

// RejectReason explains why Push refused a record. RejectNone means admitted.
type RejectReason int

const (
	RejectNone RejectReason = iota
	// RejectDepth: the record exceeds the mode's depth cap.
	RejectDepth
	// RejectBudget: the record's domain has no budget remaining.
	RejectBudget
	// RejectSeen: the canonical URL was already marked in the seen registry.
	RejectSeen
	// RejectDuplicate: an unfetched entry for the canonical URL is queued.
	RejectDuplicate
)

// String returns the reject reason as a log label.
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "admitted"
	case RejectDepth:
		return "depth_exceeded"
	case RejectBudget:
		return "budget_exhausted"
	case RejectSeen:
		return "already_seen"
	case RejectDuplicate:
		return "duplicate_pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Entry is a frontier slot: a URL record plus its scheduling state.
type Entry struct {
	Record *domain.UrlRecord

	// Attempts counts fetch attempts made so far (for retry accounting).
	Attempts int
	// HopsRemaining is the redirect budget left for this URL.
	HopsRemaining int

	seq       uint64
	notBefore time.Time
	index     int
}

// SeenChecker answers whether a canonical URL has already been seen.
type SeenChecker interface {
	Contains(canonicalURL string) bool
}

// BudgetChecker answers how many pages a domain may still fetch.
type BudgetChecker interface {
	Remaining(dom string) int
}

// Admission answers whether a domain is currently dispatchable.
type Admission interface {
	NextAllowedAt(dom string) time.Time
	HasDomainSlot(dom string) bool
}

// Frontier is not safe for concurrent use; it is owned by the scheduler's
// single mutator stage.
type Frontier struct {
	mode     Mode
	maxDepth uint

	seen      SeenChecker
	budget    BudgetChecker
	admission Admission

	heap    entryHeap
	pending map[string]*Entry

	nextSeq       uint64
	droppedBudget int64
}

// New creates a frontier for the given traversal mode. maxDepth caps
// admitted depth in both modes (the DFS cap from config is passed here when
// mode is ModeDFS).
func New(mode Mode, maxDepth uint, seen SeenChecker, budget BudgetChecker, admission Admission) *Frontier {
	f := &Frontier{
		mode:      mode,
		maxDepth:  maxDepth,
		seen:      seen,
		budget:    budget,
		admission: admission,
		pending:   make(map[string]*Entry),
	}

	f.heap.frontier = f

	return f
}

// Push admits a record unless depth, budget, or dedupe rules refuse it.
// Refusals are silent no-ops at the data-structure level; the returned
// reason lets the caller log and count them.
func (f *Frontier) Push(record *domain.UrlRecord, hopsRemaining int) (*Entry, RejectReason) {
	if record.Depth > f.maxDepth {
		return nil, RejectDepth
	}

	if f.budget.Remaining(record.Domain) <= 0 {
		return nil, RejectBudget
	}

	if f.seen.Contains(record.CanonicalURL) {
		return nil, RejectSeen
	}

	if _, queued := f.pending[record.CanonicalURL]; queued {
		return nil, RejectDuplicate
	}

	entry := &Entry{
		Record:        record,
		HopsRemaining: hopsRemaining,
		seq:           f.nextSeq,
	}
	f.nextSeq++

	f.pending[record.CanonicalURL] = entry
	heap.Push(&f.heap, entry)

	return entry, RejectNone
}

// PopReady returns the highest-priority entry whose domain is admissible at
// now: pacing satisfied, an in-flight slot free, and any retry hold expired.
// Entries whose domain budget has since been exhausted are dropped here, not
// returned. Never blocks; returns nil when nothing is ready.
func (f *Frontier) PopReady(now time.Time) *Entry {
	var skipped []*Entry

	var chosen *Entry

	for f.heap.Len() > 0 {
		entry := heap.Pop(&f.heap).(*Entry)

		if f.budget.Remaining(entry.Record.Domain) <= 0 {
			// Budget ran out while queued: drop with no retry.
			delete(f.pending, entry.Record.CanonicalURL)
			f.droppedBudget++

			continue
		}

		if f.ready(entry, now) {
			chosen = entry
			break
		}

		skipped = append(skipped, entry)
	}

	for _, entry := range skipped {
		heap.Push(&f.heap, entry)
	}

	if chosen != nil {
		delete(f.pending, chosen.Record.CanonicalURL)
	}

	return chosen
}

// Requeue re-inserts an entry whose fetch must be retried, holding it until
// notBefore. The entry keeps its discovery sequence so traversal order is
// preserved once the hold expires.
func (f *Frontier) Requeue(entry *Entry, notBefore time.Time) {
	entry.notBefore = notBefore
	f.pending[entry.Record.CanonicalURL] = entry
	heap.Push(&f.heap, entry)
}

// NextWakeAt returns the earliest time any queued entry could become ready,
// so the dispatcher can sleep precisely. The zero time means the frontier is
// empty. When an entry is ready right now, now is returned.
func (f *Frontier) NextWakeAt(now time.Time) time.Time {
	var earliest time.Time

	for _, entry := range f.heap.entries {
		at := entry.notBefore

		if domainAt := f.admission.NextAllowedAt(entry.Record.Domain); domainAt.After(at) {
			at = domainAt
		}

		if !at.After(now) {
			return now
		}

		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}

	return earliest
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	return f.heap.Len()
}

// DroppedBudget returns how many queued entries were dropped because their
// domain's budget ran out before dispatch.
func (f *Frontier) DroppedBudget() int64 {
	return f.droppedBudget
}

// ready reports whether the entry may be dispatched at now.
func (f *Frontier) ready(entry *Entry, now time.Time) bool {
	if entry.notBefore.After(now) {
		return false
	}

	if f.admission.NextAllowedAt(entry.Record.Domain).After(now) {
		return false
	}

	return f.admission.HasDomainSlot(entry.Record.Domain)
}

// less is the mode-selected priority comparator.
func (f *Frontier) less(a, b *Entry) bool {
	if f.mode == ModeDFS {
		// Most recently discovered first.
		return a.seq > b.seq
	}

	if a.Record.Depth != b.Record.Depth {
		return a.Record.Depth < b.Record.Depth
	}

	return a.seq < b.seq
}

// entryHeap implements container/heap over frontier entries.
type entryHeap struct {
	frontier *Frontier
	entries  []*Entry
}

func (h *entryHeap) Len() int { return len(h.entries) }

func (h *entryHeap) Less(i, j int) bool {
	return h.frontier.less(h.entries[i], h.entries[j])
}

func (h *entryHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *entryHeap) Push(x any) {
	entry := x.(*Entry)
	entry.index = len(h.entries)
	h.entries = append(h.entries, entry)
}

func (h *entryHeap) Pop() any {
	old := h.entries
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	h.entries = old[:n-1]

	return entry
}
