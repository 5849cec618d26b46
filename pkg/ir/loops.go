package ir

import "sort"

// Loop is a natural loop: a header plus every block that reaches one of the
// header's back edges without passing through the header.
type Loop struct {
	Header BlockID
	Body   []BlockID // sorted, includes Header
	Parent *Loop

	members map[BlockID]bool
}

func (l *Loop) Contains(b BlockID) bool { return l.members[b] }

// Depth is 1 for an outermost loop.
func (l *Loop) Depth() int {
	d := 0
	for ; l != nil; l = l.Parent {
		d++
	}
	return d
}

// Exits returns the blocks outside the loop that a body block branches to.
func (l *Loop) Exits(a *Analysis) []BlockID {
	var exits []BlockID
	for _, b := range l.Body {
		for _, s := range a.Succs[b] {
			if !l.members[s] && !containsBlock(exits, s) {
				exits = append(exits, s)
			}
		}
	}
	sort.Slice(exits, func(i, j int) bool { return exits[i] < exits[j] })
	return exits
}

// findLoops visits blocks in preorder, so an enclosing header is always seen
// before the headers nested in it. LoopOf is overwritten by each later
// (inner) loop, leaving every block mapped to its innermost loop.
func (a *Analysis) findLoops() {
	for _, h := range a.PreOrder {
		var latches []BlockID
		for _, p := range a.Preds[h] {
			if a.Dominates(h, p) {
				latches = append(latches, p)
			}
		}
		if len(latches) == 0 {
			continue
		}

		loop := &Loop{Header: h, Parent: a.LoopOf[h], members: map[BlockID]bool{h: true}}
		work := append([]BlockID(nil), latches...)
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			if loop.members[b] {
				continue
			}
			loop.members[b] = true
			for _, p := range a.Preds[b] {
				if a.Reachable(p) && !loop.members[p] {
					work = append(work, p)
				}
			}
		}

		for b := range loop.members {
			loop.Body = append(loop.Body, b)
			a.LoopOf[b] = loop
		}
		sort.Slice(loop.Body, func(i, j int) bool { return loop.Body[i] < loop.Body[j] })
		a.Loops = append(a.Loops, loop)
	}
}

// LoopOf returns the innermost loop containing b, or nil.
func (f *Function) LoopOf(b BlockID) *Loop { return f.Analysis().LoopOf[b] }
