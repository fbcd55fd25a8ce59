package backup

import "slices"

// DependencyOrderer sorts envelopes parent-before-child using a maintained
// priority list. It does not inspect foreign keys; the list must cover every
// type whose parents also appear in archives.
type DependencyOrderer struct {
	priority []string
}

// NewDependencyOrderer copies priority so later edits by the caller have no effect
func NewDependencyOrderer(priority []string) *DependencyOrderer {
	return &DependencyOrderer{priority: slices.Clone(priority)}
}

// Order places records of listed types in list order, then all remaining
// records in their original order. Within a type the original relative order
// is kept. Duplicate identities are placed once; the first occurrence wins.
func (o *DependencyOrderer) Order(records []RecordEnvelope) []RecordEnvelope {
	seen := make(map[string]bool, len(records))
	byType := make(map[string][]int)
	unique := make([]int, 0, len(records))

	for i, rec := range records {
		id := rec.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, i)
		byType[rec.Type] = append(byType[rec.Type], i)
	}

	ordered := make([]RecordEnvelope, 0, len(unique))
	placed := make(map[string]bool, len(o.priority))
	for _, typeName := range o.priority {
		if placed[typeName] {
			continue
		}
		placed[typeName] = true
		for _, i := range byType[typeName] {
			ordered = append(ordered, records[i])
		}
	}

	for _, i := range unique {
		if !placed[records[i].Type] {
			ordered = append(ordered, records[i])
		}
	}
	return ordered
}

// ClearOrder returns the distinct types children-first: unlisted types in
// reverse order of appearance, then listed types in reverse priority order.
func (o *DependencyOrderer) ClearOrder(types []string) []string {
	present := make(map[string]bool, len(types))
	var distinct []string
	for _, t := range types {
		if !present[t] {
			present[t] = true
			distinct = append(distinct, t)
		}
	}

	listed := make(map[string]bool, len(o.priority))
	for _, t := range o.priority {
		listed[t] = true
	}

	out := make([]string, 0, len(distinct))
	for i := len(distinct) - 1; i >= 0; i-- {
		if !listed[distinct[i]] {
			out = append(out, distinct[i])
		}
	}

	added := make(map[string]bool)
	for i := len(o.priority) - 1; i >= 0; i-- {
		t := o.priority[i]
		if present[t] && !added[t] {
			added[t] = true
			out = append(out, t)
		}
	}
	return out
}

// DistinctTypes lists the types of decodable records in order of first
// appearance
func DistinctTypes(records []RecordEnvelope) []string {
	seen := make(map[string]bool)
	var out []string
	for _, rec := range records {
		if rec.decodeErr != nil {
			continue
		}
		if !seen[rec.Type] {
			seen[rec.Type] = true
			out = append(out, rec.Type)
		}
	}
	return out
}
