package event

import (
	"sort"
)

// Update pairs a stored event with the fresh content that replaces it
type Update struct {
	Existing *Persisted
	Fresh    *Canonical
	Changed  []string // content field names that differ
}

// Plan is the set of writes that brings a feed's stored events in line
// with a fresh scrape.
type Plan struct {
	Inserts    []*Canonical
	Updates    []Update
	Deletes    []*Persisted
	Unchanged  []*Persisted
	Duplicates []string // origin ids seen more than once in the fresh set
}

// Empty reports whether applying the plan would write nothing
func (p *Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// pool holds fresh records that have not been matched yet
type pool struct {
	items    []*Canonical
	consumed []bool
	byOrigin map[string][]int
}

func newPool(fresh []*Canonical) *pool {
	p := &pool{
		items:    fresh,
		consumed: make([]bool, len(fresh)),
		byOrigin: make(map[string][]int, len(fresh)),
	}
	for i, c := range fresh {
		p.byOrigin[c.OriginID] = append(p.byOrigin[c.OriginID], i)
	}
	return p
}

// take consumes the first unmatched record with the given origin id
func (p *pool) take(originID string) (*Canonical, bool) {
	for _, i := range p.byOrigin[originID] {
		if !p.consumed[i] {
			p.consumed[i] = true
			return p.items[i], true
		}
	}
	return nil, false
}

// remaining returns unmatched records in their original order
func (p *pool) remaining() []*Canonical {
	out := make([]*Canonical, 0)
	for i, c := range p.items {
		if !p.consumed[i] {
			out = append(out, c)
		}
	}
	return out
}

// Reconcile computes the writes needed to turn persisted into fresh.
//
// Persisted events are scanned in the given order and each one claims the
// first unclaimed fresh record with its origin id. Only the first fresh
// record per origin id is eligible; repeats are dropped and reported in
// Plan.Duplicates. Fingerprints are computed and attached to every insert
// and update.
func Reconcile(persisted []*Persisted, fresh []*Canonical) *Plan {
	plan := &Plan{
		Inserts:   make([]*Canonical, 0),
		Updates:   make([]Update, 0),
		Deletes:   make([]*Persisted, 0),
		Unchanged: make([]*Persisted, 0),
	}

	seen := make(map[string]bool, len(fresh))
	eligible := make([]*Canonical, 0, len(fresh))
	for _, c := range fresh {
		if seen[c.OriginID] {
			plan.Duplicates = append(plan.Duplicates, c.OriginID)
			continue
		}
		seen[c.OriginID] = true
		eligible = append(eligible, c)
	}

	remaining := newPool(eligible)

	for _, p := range persisted {
		f, ok := remaining.take(p.OriginID)
		if !ok {
			plan.Deletes = append(plan.Deletes, p)
			continue
		}

		fp := Fingerprint(f)
		if fp == p.Fingerprint {
			plan.Unchanged = append(plan.Unchanged, p)
			continue
		}

		updated := *f
		updated.Fingerprint = fp
		plan.Updates = append(plan.Updates, Update{
			Existing: p,
			Fresh:    &updated,
			Changed:  ChangedFields(&p.Canonical, f),
		})
	}

	for _, f := range remaining.remaining() {
		created := *f
		created.Fingerprint = Fingerprint(f)
		plan.Inserts = append(plan.Inserts, &created)
	}

	return plan
}

// ChangedFields lists the content fields that differ between two events
func ChangedFields(previous, current *Canonical) []string {
	before := previous.ContentFields()
	after := current.ContentFields()

	changed := make([]string, 0)
	for name, value := range after {
		if before[name] != value {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
