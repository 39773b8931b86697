package frontier_test

import (
	"testing"
	"time"

	"github.com/jonesrussell/sitecrawl/internal/domain"
	"github.com/jonesrussell/sitecrawl/internal/frontier"
)

// fakeGates provides controllable seen/budget/admission state for tests.
type fakeGates struct {
	seen          map[string]bool
	budgets       map[string]int
	notAllowed    map[string]time.Time
	slotsFull     map[string]bool
	defaultBudget int
}

func newFakeGates() *fakeGates {
	return &fakeGates{
		seen:          make(map[string]bool),
		budgets:       make(map[string]int),
		notAllowed:    make(map[string]time.Time),
		slotsFull:     make(map[string]bool),
		defaultBudget: 100,
	}
}

func (g *fakeGates) Contains(u string) bool { return g.seen[u] }

func (g *fakeGates) Remaining(dom string) int {
	if b, ok := g.budgets[dom]; ok {
		return b
	}

	return g.defaultBudget
}

func (g *fakeGates) NextAllowedAt(dom string) time.Time { return g.notAllowed[dom] }

func (g *fakeGates) HasDomainSlot(dom string) bool { return !g.slotsFull[dom] }

func record(url, dom string, depth uint) *domain.UrlRecord {
	return &domain.UrlRecord{
		ID:           url,
		RawURL:       url,
		CanonicalURL: url,
		Domain:       dom,
		Depth:        depth,
		DiscoveredAt: time.Now(),
	}
}

func mustPush(t *testing.T, f *frontier.Frontier, rec *domain.UrlRecord) {
	t.Helper()

	if _, reason := f.Push(rec, 5); reason != frontier.RejectNone {
		t.Fatalf("Push(%s) rejected: %v", rec.CanonicalURL, reason)
	}
}

func TestPush_Rejections(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	gates.seen["https://a.test/seen"] = true
	gates.budgets["broke.test"] = 0

	f := frontier.New(frontier.ModeBFS, 2, gates, gates, gates)

	tests := []struct {
		name string
		rec  *domain.UrlRecord
		want frontier.RejectReason
	}{
		{"depth over cap", record("https://a.test/deep", "a.test", 3), frontier.RejectDepth},
		{"budget exhausted", record("https://broke.test/x", "broke.test", 1), frontier.RejectBudget},
		{"already seen", record("https://a.test/seen", "a.test", 1), frontier.RejectSeen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, reason := f.Push(tt.rec, 5); reason != tt.want {
				t.Errorf("Push() reason = %v, want %v", reason, tt.want)
			}
		})
	}

	// Duplicate pending: second push of the same canonical URL is a no-op.
	mustPush(t, f, record("https://a.test/dup", "a.test", 1))

	if _, reason := f.Push(record("https://a.test/dup", "a.test", 1), 5); reason != frontier.RejectDuplicate {
		t.Errorf("duplicate push reason = %v, want RejectDuplicate", reason)
	}

	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestPopReady_BFSLevelOrder(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	f := frontier.New(frontier.ModeBFS, 10, gates, gates, gates)

	// Push out of depth order: depths 1, 0, 2, 1, 0.
	mustPush(t, f, record("https://a.test/d1-first", "a.test", 1))
	mustPush(t, f, record("https://a.test/d0-first", "a.test", 0))
	mustPush(t, f, record("https://a.test/d2", "a.test", 2))
	mustPush(t, f, record("https://a.test/d1-second", "a.test", 1))
	mustPush(t, f, record("https://a.test/d0-second", "a.test", 0))

	want := []string{
		"https://a.test/d0-first",
		"https://a.test/d0-second",
		"https://a.test/d1-first",
		"https://a.test/d1-second",
		"https://a.test/d2",
	}

	now := time.Now()

	for i, wantURL := range want {
		entry := f.PopReady(now)
		if entry == nil {
			t.Fatalf("pop %d: got nil, want %s", i, wantURL)
		}

		if entry.Record.CanonicalURL != wantURL {
			t.Errorf("pop %d = %s, want %s", i, entry.Record.CanonicalURL, wantURL)
		}
	}

	if entry := f.PopReady(now); entry != nil {
		t.Errorf("expected empty frontier, got %s", entry.Record.CanonicalURL)
	}
}

func TestPopReady_DFSMostRecentFirst(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	f := frontier.New(frontier.ModeDFS, 10, gates, gates, gates)

	mustPush(t, f, record("https://a.test/first", "a.test", 0))
	mustPush(t, f, record("https://a.test/second", "a.test", 1))
	mustPush(t, f, record("https://a.test/third", "a.test", 1))

	want := []string{
		"https://a.test/third",
		"https://a.test/second",
		"https://a.test/first",
	}

	now := time.Now()

	for i, wantURL := range want {
		entry := f.PopReady(now)
		if entry == nil || entry.Record.CanonicalURL != wantURL {
			t.Fatalf("pop %d: got %v, want %s", i, entry, wantURL)
		}
	}
}

func TestPopReady_SkipsUnreadyDomain(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	gates.notAllowed["slow.test"] = time.Now().Add(time.Hour)

	f := frontier.New(frontier.ModeBFS, 10, gates, gates, gates)

	mustPush(t, f, record("https://slow.test/priority", "slow.test", 0))
	mustPush(t, f, record("https://fast.test/later", "fast.test", 1))

	entry := f.PopReady(time.Now())
	if entry == nil {
		t.Fatal("expected fast.test entry, got nil")
	}

	if entry.Record.Domain != "fast.test" {
		t.Errorf("popped %s, want the admissible fast.test entry", entry.Record.CanonicalURL)
	}

	// The skipped entry stays queued.
	if f.Len() != 1 {
		t.Errorf("Len() = %d, want 1", f.Len())
	}
}

func TestPopReady_SaturatedDomainSlots(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	gates.slotsFull["busy.test"] = true

	f := frontier.New(frontier.ModeBFS, 10, gates, gates, gates)

	mustPush(t, f, record("https://busy.test/x", "busy.test", 0))

	if entry := f.PopReady(time.Now()); entry != nil {
		t.Errorf("expected nil while domain slots saturated, got %s", entry.Record.CanonicalURL)
	}

	gates.slotsFull["busy.test"] = false

	if entry := f.PopReady(time.Now()); entry == nil {
		t.Error("expected entry after slot freed")
	}
}

// Budget exhausted after admission: queued entries for the domain drain with
// no retry.
func TestPopReady_DropsOverBudgetEntries(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	gates.budgets["a.test"] = 2

	f := frontier.New(frontier.ModeBFS, 10, gates, gates, gates)

	urls := []string{"/p1", "/p2", "/p3", "/p4", "/p5"}
	for _, u := range urls {
		mustPush(t, f, record("https://a.test"+u, "a.test", 1))
	}

	now := time.Now()

	// Two pops succeed, simulating a fetch each by decrementing budget.
	for i := 0; i < 2; i++ {
		entry := f.PopReady(now)
		if entry == nil {
			t.Fatalf("pop %d: expected entry", i)
		}

		gates.budgets["a.test"]--
	}

	if entry := f.PopReady(now); entry != nil {
		t.Errorf("expected nil after budget exhausted, got %s", entry.Record.CanonicalURL)
	}

	if got := f.DroppedBudget(); got != 3 {
		t.Errorf("DroppedBudget() = %d, want 3", got)
	}

	if f.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after over-budget drain", f.Len())
	}
}

func TestRequeue_HoldsUntilNotBefore(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	f := frontier.New(frontier.ModeBFS, 10, gates, gates, gates)

	mustPush(t, f, record("https://a.test/retry", "a.test", 0))

	now := time.Now()

	entry := f.PopReady(now)
	if entry == nil {
		t.Fatal("expected entry")
	}

	hold := now.Add(time.Minute)
	f.Requeue(entry, hold)

	if got := f.PopReady(now); got != nil {
		t.Errorf("entry returned before hold expired: %s", got.Record.CanonicalURL)
	}

	if got := f.PopReady(hold.Add(time.Second)); got == nil {
		t.Error("expected entry after hold expired")
	}
}

func TestNextWakeAt(t *testing.T) {
	t.Parallel()

	gates := newFakeGates()
	f := frontier.New(frontier.ModeBFS, 10, gates, gates, gates)

	now := time.Now()

	if !f.NextWakeAt(now).IsZero() {
		t.Error("empty frontier should report zero wake time")
	}

	mustPush(t, f, record("https://a.test/ready", "a.test", 0))

	if got := f.NextWakeAt(now); !got.Equal(now) {
		t.Errorf("NextWakeAt = %v, want now for a ready entry", got)
	}

	entry := f.PopReady(now)
	hold := now.Add(time.Minute)
	f.Requeue(entry, hold)

	got := f.NextWakeAt(now)
	if got.Before(hold.Add(-time.Second)) || got.After(hold.Add(time.Second)) {
		t.Errorf("NextWakeAt = %v, want about %v", got, hold)
	}
}
