package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Bag collects diagnostics up to a limit. The pipeline gives each
// worker its own bag and merges after the join barrier, so Bag itself
// needs no locking.
type Bag struct {
	items []*Diagnostic
	max   int
}

// NewBag returns a bag holding at most max diagnostics; max <= 0 means
// unlimited.
func NewBag(max int) *Bag {
	return &Bag{max: max}
}

// Add appends d. Returns false when the limit is reached.
func (b *Bag) Add(d *Diagnostic) bool {
	if d == nil {
		return false
	}
	if b.max > 0 && len(b.items) >= b.max {
		return false
	}
	b.items = append(b.items, d)
	return true
}

func (b *Bag) Len() int { return len(b.items) }

// HasErrors reports whether anything was collected. Every diagnostic in
// this compiler is fatal for its function.
func (b *Bag) HasErrors() bool { return len(b.items) > 0 }

// Items returns the collected diagnostics. The slice aliases internal
// storage; callers must not modify it.
func (b *Bag) Items() []*Diagnostic { return b.items }

// Merge appends the contents of other, growing the limit if needed.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	if b.max > 0 && len(b.items)+len(other.items) > b.max {
		b.max = len(b.items) + len(other.items)
	}
	b.items = append(b.items, other.items...)
}

// Sort orders diagnostics by function index, offset, class and code so
// that aggregate output is deterministic regardless of which worker
// produced what first.
func (b *Bag) Sort() {
	sort.SliceStable(b.items, func(i, j int) bool {
		di, dj := b.items[i], b.items[j]
		if di.Func != dj.Func {
			return di.Func < dj.Func
		}
		if di.Offset != dj.Offset {
			return di.Offset < dj.Offset
		}
		if di.Class != dj.Class {
			return di.Class < dj.Class
		}
		return di.Code < dj.Code
	})
}

// Err renders the aggregate module error, one line per diagnostic,
// never dropping siblings. Returns nil for an empty bag.
func (b *Bag) Err() error {
	if len(b.items) == 0 {
		return nil
	}
	b.Sort()
	var sb strings.Builder
	fmt.Fprintf(&sb, "module compilation failed (%d functions):", len(b.items))
	for _, d := range b.items {
		sb.WriteString("\n\t")
		sb.WriteString(d.Error())
	}
	return fmt.Errorf("%s", sb.String())
}
