package resolve

import "sort"

// disjointSet groups names that are transitively equivalent. Roots are chosen
// so that the smallest name is always the representative, which keeps the
// grouping independent of union order.
type disjointSet struct {
	parent map[string]string
}

func newDisjointSet() *disjointSet {
	return &disjointSet{parent: make(map[string]string)}
}

func (d *disjointSet) add(x string) {
	if _, ok := d.parent[x]; !ok {
		d.parent[x] = x
	}
}

func (d *disjointSet) find(x string) string {
	d.add(x)
	if d.parent[x] != x {
		d.parent[x] = d.find(d.parent[x])
	}
	return d.parent[x]
}

func (d *disjointSet) union(x, y string) {
	px, py := d.find(x), d.find(y)
	if px == py {
		return
	}
	if py < px {
		px, py = py, px
	}
	d.parent[py] = px
}

// unionAll joins every member of group.
func (d *disjointSet) unionAll(group []string) {
	for i := 1; i < len(group); i++ {
		d.union(group[0], group[i])
	}
}

// components returns the groups with more than one member, each sorted,
// ordered by their first element.
func (d *disjointSet) components() [][]string {
	byRoot := make(map[string][]string)
	for x := range d.parent {
		root := d.find(x)
		byRoot[root] = append(byRoot[root], x)
	}

	out := make([][]string, 0, len(byRoot))
	for _, group := range byRoot {
		if len(group) < 2 {
			continue
		}
		sort.Strings(group)
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
