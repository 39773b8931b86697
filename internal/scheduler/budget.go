package scheduler

// unlimited is the remaining value reported when no budget is configured.
const unlimited = int(^uint(0) >> 1)

// budgets tracks page budgets. It is owned by the run loop goroutine and is
// not safe for concurrent use; the frontier consults it through the
// BudgetChecker interface from the same goroutine.
type budgets struct {
	perDomain int
	total     int64

	usedTotal    int64
	usedByDomain map[string]int
}

func newBudgets(perDomain int, total int64) *budgets {
	return &budgets{
		perDomain:    perDomain,
		total:        total,
		usedByDomain: make(map[string]int),
	}
}

// Remaining returns how many pages the domain may still fetch, bounded by
// both the per-domain and the session-wide budget.
func (b *budgets) Remaining(dom string) int {
	remaining := unlimited

	if b.perDomain > 0 {
		remaining = b.perDomain - b.usedByDomain[dom]
	}

	if b.total > 0 {
		if totalLeft := int(b.total - b.usedTotal); totalLeft < remaining {
			remaining = totalLeft
		}
	}

	if remaining < 0 {
		return 0
	}

	return remaining
}

// Consume charges one page against the domain and the session total.
func (b *budgets) Consume(dom string) {
	b.usedByDomain[dom]++
	b.usedTotal++
}

// TotalExhausted reports whether the session-wide budget is spent.
func (b *budgets) TotalExhausted() bool {
	return b.total > 0 && b.usedTotal >= b.total
}
