package ir

import (
	"sort"

	"github.com/oleiade/lane"
)

// Analysis caches traversal orders, dominance, post-dominance and loop
// information for one snapshot of a function's CFG. All slices indexed by
// block have one entry per block; unreachable blocks keep their zero marks
// (PostIndex -1, IDom NoBlock).
type Analysis struct {
	Preds [][]BlockID
	Succs [][]BlockID

	PreOrder  []BlockID
	PostOrder []BlockID
	RPO       []BlockID
	PostIndex []int

	IDom     []BlockID // NoBlock for the entry block
	Frontier [][]BlockID

	// Post-dominance is computed against a virtual exit node that follows
	// every block ending in return, unreachable or discard. IPDom is NoBlock
	// both for a block whose immediate post-dominator is that virtual exit
	// and for a block that never reaches an exit (an endless loop);
	// ReachesExit tells the two apart.
	Exits        []BlockID
	IPDom        []BlockID
	PostFrontier [][]BlockID
	ReachesExit  []bool

	Loops  []*Loop
	LoopOf []*Loop
}

// Analyze computes all analyses for f. Block 0 is the entry block.
func Analyze(f *Function) *Analysis {
	n := len(f.Blocks)
	a := &Analysis{
		Preds:  make([][]BlockID, n),
		Succs:  make([][]BlockID, n),
		LoopOf: make([]*Loop, n),
	}
	if n == 0 {
		return a
	}

	for _, bb := range f.Blocks {
		for _, s := range bb.Successors() {
			if !containsBlock(a.Succs[bb.ID], s) {
				a.Succs[bb.ID] = append(a.Succs[bb.ID], s)
				a.Preds[s] = append(a.Preds[s], bb.ID)
			}
		}
		if t := bb.Terminator(); t != nil && t.Op.IsExit() {
			a.Exits = append(a.Exits, bb.ID)
		}
	}

	a.computeDominance()
	a.computePostDominance()
	a.findLoops()
	return a
}

func (a *Analysis) computeDominance() {
	n := len(a.Succs)
	a.PreOrder, a.PostOrder = depthFirst(a.Succs, 0)
	a.RPO = reversed(a.PostOrder)
	a.PostIndex = indexOf(a.PostOrder, n)

	idom := dominators(a.Preds, 0, a.PostOrder, a.PostIndex)
	a.Frontier = frontiers(a.Preds, idom, a.PostIndex)
	idom[0] = NoBlock
	a.IDom = idom
}

func (a *Analysis) computePostDominance() {
	n := len(a.Succs)
	exit := BlockID(n)

	// Reverse the CFG and hang every exit block off the virtual exit.
	succs := make([][]BlockID, n+1)
	preds := make([][]BlockID, n+1)
	for b := 0; b < n; b++ {
		succs[b] = a.Preds[b]
		preds[b] = append([]BlockID(nil), a.Succs[b]...)
	}
	succs[exit] = a.Exits
	for _, e := range a.Exits {
		preds[e] = append(preds[e], exit)
	}

	_, post := depthFirst(succs, exit)
	postIndex := indexOf(post, n+1)
	ipdom := dominators(preds, exit, post, postIndex)
	frontier := frontiers(preds, ipdom, postIndex)

	a.IPDom = make([]BlockID, n)
	a.PostFrontier = make([][]BlockID, n)
	a.ReachesExit = make([]bool, n)
	for b := 0; b < n; b++ {
		a.ReachesExit[b] = postIndex[b] >= 0
		a.IPDom[b] = ipdom[b]
		if ipdom[b] == exit {
			a.IPDom[b] = NoBlock
		}
		for _, f := range frontier[b] {
			if f != exit {
				a.PostFrontier[b] = append(a.PostFrontier[b], f)
			}
		}
	}
}

// Reachable reports whether b is reachable from the entry block.
func (a *Analysis) Reachable(b BlockID) bool { return a.PostIndex[b] >= 0 }

// Dominates reports whether every path from the entry to b passes through x.
func (a *Analysis) Dominates(x, b BlockID) bool {
	if !a.Reachable(b) || !a.Reachable(x) {
		return false
	}
	for ; b != NoBlock; b = a.IDom[b] {
		if b == x {
			return true
		}
	}
	return false
}

// PostDominates reports whether every path from b to an exit passes through x.
func (a *Analysis) PostDominates(x, b BlockID) bool {
	for seen := 0; b != NoBlock && seen <= len(a.IPDom); seen++ {
		if b == x {
			return true
		}
		b = a.IPDom[b]
	}
	return false
}

// IrreducibleEdge returns a retreating edge whose target does not dominate
// its source. ok is false when every retreating edge is a back edge, that is
// when the CFG is reducible.
func (a *Analysis) IrreducibleEdge() (from, to BlockID, ok bool) {
	for _, u := range a.RPO {
		for _, v := range a.Succs[u] {
			if a.PostIndex[v] >= a.PostIndex[u] && !a.Dominates(v, u) {
				return u, v, true
			}
		}
	}
	return NoBlock, NoBlock, false
}

// depthFirst walks succs from entry, returning the preorder and postorder of
// the reachable nodes.
func depthFirst(succs [][]BlockID, entry BlockID) (pre, post []BlockID) {
	visited := make([]bool, len(succs))
	next := make([]int, len(succs))
	stack := lane.NewStack()

	visited[entry] = true
	pre = append(pre, entry)
	stack.Push(entry)

	for !stack.Empty() {
		this := stack.Head().(BlockID)
		pushed := false
		for next[this] < len(succs[this]) {
			s := succs[this][next[this]]
			next[this]++
			if !visited[s] {
				visited[s] = true
				pre = append(pre, s)
				stack.Push(s)
				pushed = true
				break
			}
		}
		if !pushed {
			post = append(post, stack.Pop().(BlockID))
		}
	}
	return pre, post
}

// dominators runs the Cooper-Harvey-Kennedy iteration. The entry dominates
// itself in the result; unreachable nodes get NoBlock.
func dominators(preds [][]BlockID, entry BlockID, post []BlockID, postIndex []int) []BlockID {
	idom := make([]BlockID, len(preds))
	for i := range idom {
		idom[i] = NoBlock
	}
	idom[entry] = entry

	for changed := true; changed; {
		changed = false
		for i := len(post) - 1; i >= 0; i-- {
			b := post[i]
			if b == entry {
				continue
			}
			newIDom := NoBlock
			for _, p := range preds[b] {
				if postIndex[p] < 0 || idom[p] == NoBlock {
					continue
				}
				if newIDom == NoBlock {
					newIDom = p
				} else {
					newIDom = intersect(idom, postIndex, p, newIDom)
				}
			}
			if newIDom != idom[b] {
				idom[b] = newIDom
				changed = true
			}
		}
	}
	return idom
}

func intersect(idom []BlockID, postIndex []int, a, b BlockID) BlockID {
	for a != b {
		for postIndex[a] < postIndex[b] {
			a = idom[a]
		}
		for postIndex[b] < postIndex[a] {
			b = idom[b]
		}
	}
	return a
}

// frontiers computes dominance frontiers from an immediate-dominator array
// in which the entry dominates itself.
func frontiers(preds [][]BlockID, idom []BlockID, postIndex []int) [][]BlockID {
	df := make([][]BlockID, len(preds))
	for b := range preds {
		if postIndex[b] < 0 || len(preds[b]) < 2 {
			continue
		}
		for _, p := range preds[b] {
			if postIndex[p] < 0 {
				continue
			}
			for runner := p; runner != idom[b]; runner = idom[runner] {
				if !containsBlock(df[runner], BlockID(b)) {
					df[runner] = append(df[runner], BlockID(b))
				}
				if runner == idom[runner] {
					break
				}
			}
		}
	}
	for _, set := range df {
		sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	}
	return df
}

func reversed(order []BlockID) []BlockID {
	out := make([]BlockID, len(order))
	for i, b := range order {
		out[len(order)-1-i] = b
	}
	return out
}

func indexOf(order []BlockID, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = -1
	}
	for i, b := range order {
		idx[b] = i
	}
	return idx
}

func containsBlock(list []BlockID, b BlockID) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}
