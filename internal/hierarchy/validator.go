package hierarchy

import "slices"

// Classification is the verdict on every candidate parent of a tenant.
type Classification struct {
	TenantID           int64   `json:"tenant_id"`
	Selected           []int64 `json:"selected"`
	Legal              []int64 `json:"legal"`
	DisabledDescendant []int64 `json:"disabled_descendant"`
	DisabledRedundant  []int64 `json:"disabled_redundant"`
}

// Classify sorts candidates into legal and disabled parents for tenant. Candidates
// are tenants plus every node of edges, excluding tenant itself.
//
// A descendant of tenant would close a cycle. An ancestor of the current parent
// already receives the tenant's facts through that parent.
func Classify(tenant int64, edges []Edge, tenants []int64) Classification {
	parents := make(map[int64][]int64)
	children := make(map[int64][]int64)
	nodes := make(map[int64]struct{}, len(tenants))
	for _, id := range tenants {
		nodes[id] = struct{}{}
	}
	for _, e := range edges {
		parents[e.Child] = append(parents[e.Child], e.Parent)
		children[e.Parent] = append(children[e.Parent], e.Child)
		nodes[e.Child] = struct{}{}
		nodes[e.Parent] = struct{}{}
	}

	direct := parents[tenant]
	descendants := walk([]int64{tenant}, children)
	delete(descendants, tenant)

	ancestors := walk(direct, parents)
	delete(ancestors, tenant)
	for _, p := range direct {
		delete(ancestors, p)
	}

	out := Classification{
		TenantID:           tenant,
		Selected:           []int64{},
		Legal:              []int64{},
		DisabledDescendant: []int64{},
		DisabledRedundant:  []int64{},
	}
	for id := range nodes {
		switch {
		case id == tenant:
		case contains(descendants, id):
			out.DisabledDescendant = append(out.DisabledDescendant, id)
		case contains(ancestors, id):
			out.DisabledRedundant = append(out.DisabledRedundant, id)
		default:
			out.Legal = append(out.Legal, id)
		}
	}
	for _, p := range direct {
		if p != tenant && !contains(descendants, p) {
			out.Selected = append(out.Selected, p)
		}
	}
	slices.Sort(out.Selected)
	out.Selected = slices.Compact(out.Selected)
	slices.Sort(out.Legal)
	slices.Sort(out.DisabledDescendant)
	slices.Sort(out.DisabledRedundant)
	return out
}

// ValidateParent reports why parent cannot be chosen for tenant, or nil.
func ValidateParent(tenant, parent int64, edges []Edge) error {
	if tenant == parent {
		return ErrSelfParent
	}
	c := Classify(tenant, edges, []int64{parent})
	switch {
	case slices.Contains(c.DisabledDescendant, parent):
		return ErrCycleDetected
	case slices.Contains(c.DisabledRedundant, parent):
		return ErrRedundantParent
	}
	return nil
}

// walk runs a breadth-first search from start over adj and returns every node
// reached, start included.
func walk(start []int64, adj map[int64][]int64) map[int64]struct{} {
	seen := make(map[int64]struct{}, len(start))
	queue := make([]int64, 0, len(start))
	for _, id := range start {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adj[id] {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return seen
}

func contains(set map[int64]struct{}, id int64) bool {
	_, ok := set[id]
	return ok
}
