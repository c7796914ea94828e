package sim

// Candidates is the broad-phase result of one contact pass: for node i,
// Proxies[Offsets[i]:Offsets[i+1]] lists the proxies whose bounding sphere
// held the node, in ascending order.
type Candidates struct {
	Offsets []int
	Proxies []int

	pairs  []candidatePair
	cursor []int
}

type candidatePair struct {
	node, proxy int
}

func newCandidates(nodes int) Candidates {
	return Candidates{
		Offsets: make([]int, nodes+1),
		cursor:  make([]int, nodes),
	}
}

// BuildCandidates queries the grid once per proxy, in proxy order, and
// regroups the (node, proxy) pairs by node with a stable counting sort.
func (s *SpringSystem) BuildCandidates(c Colliders) {
	cand := &s.Candidates
	cand.pairs = cand.pairs[:0]
	margin := s.Material.Margin
	for k := 0; k < c.Len(); k++ {
		center, radius := c.Bounds(k, margin)
		s.Grid.Query(center, radius, func(i int) bool {
			cand.pairs = append(cand.pairs, candidatePair{node: i, proxy: k})
			return true
		})
	}
	clear(cand.Offsets)
	for _, pr := range cand.pairs {
		cand.Offsets[pr.node+1]++
	}
	for i := range cand.cursor {
		cand.Offsets[i+1] += cand.Offsets[i]
		cand.cursor[i] = cand.Offsets[i]
	}
	if cap(cand.Proxies) < len(cand.pairs) {
		cand.Proxies = make([]int, len(cand.pairs))
	}
	cand.Proxies = cand.Proxies[:len(cand.pairs)]
	for _, pr := range cand.pairs {
		cand.Proxies[cand.cursor[pr.node]] = pr.proxy
		cand.cursor[pr.node]++
	}
}

// CollideCandidates runs the narrow phase of node i against its candidate
// proxies in ascending order and returns the number of contacts. Once a
// contact has moved the node, every later proxy is tested as well, since
// the node may have been pushed into a proxy whose bounds missed its old
// position. Reads only the candidate lists, so nodes may be processed
// concurrently.
func (s *SpringSystem) CollideCandidates(n *Node, i int, c Colliders, h float64) int {
	cand := &s.Candidates
	e, end := cand.Offsets[i], cand.Offsets[i+1]
	if e == end {
		return 0
	}
	hits := 0
	for k := cand.Proxies[e]; k < c.Len(); k++ {
		candidate := e < end && cand.Proxies[e] == k
		if candidate {
			e++
		} else if hits == 0 {
			continue
		}
		if s.CollideStatic(n, c, k, h) {
			hits++
		}
	}
	return hits
}
