package resolve

// unionFind is a disjoint-set over indices with union by minimum root,
// so the cluster representative is always the smallest member index.
// With members ordered by mention id, merges come out identical for
// identical input regardless of union order.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// clusters returns the members of each set, keyed by representative,
// with members in ascending index order.
func (u *unionFind) clusters() map[int][]int {
	out := map[int][]int{}
	for i := range u.parent {
		root := u.find(i)
		out[root] = append(out[root], i)
	}
	return out
}
