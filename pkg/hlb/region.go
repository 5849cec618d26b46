package hlb

import (
	"github.com/oleiade/lane"
	"github.com/xplshn/aslc/pkg/ir"
)

// loopRegion is the set of blocks emitted inside one Loop statement: the
// natural loop plus the exit blocks that only the loop can reach (the code
// before a break or a return in the body). merge is where the loop
// continues once it is left, NoBlock if it never is.
type loopRegion struct {
	header  ir.BlockID
	members map[ir.BlockID]bool
	merge   ir.BlockID
}

func (r *loopRegion) exits(an *ir.Analysis) []ir.BlockID {
	var exits []ir.BlockID
	seen := make(map[ir.BlockID]bool)
	for id := range an.Succs {
		if !r.members[ir.BlockID(id)] {
			continue
		}
		for _, s := range an.Succs[id] {
			if !r.members[s] && !seen[s] {
				seen[s] = true
				exits = append(exits, s)
			}
		}
	}
	return exits
}

func (b *FunctionBuilder) region(l *ir.Loop) *loopRegion {
	if r, ok := b.regions[l.Header]; ok {
		return r
	}
	r := &loopRegion{header: l.Header, members: make(map[ir.BlockID]bool), merge: ir.NoBlock}
	for _, id := range l.Body {
		r.members[id] = true
	}
	preferred := b.preferredExit(r)

	for {
		exits := r.exits(b.an)
		if len(exits) <= 1 {
			if len(exits) == 1 {
				r.merge = exits[0]
			}
			break
		}
		absorbed := false
		for _, x := range exits {
			if x != preferred && b.absorbable(r, x) {
				r.members[x] = true
				absorbed = true
			}
		}
		if !absorbed && !b.absorbTails(r, exits) {
			fail("%s: loop at @%s has %d exits", b.src.Name, b.blockName(l.Header), len(exits))
		}
	}
	b.regions[l.Header] = r
	return r
}

// preferredExit is the exit the loop condition leads to: the header's
// successor outside the loop, else the one of a latch.
func (b *FunctionBuilder) preferredExit(r *loopRegion) ir.BlockID {
	for _, s := range b.an.Succs[r.header] {
		if !r.members[s] {
			return s
		}
	}
	for _, p := range b.an.Preds[r.header] {
		if !r.members[p] {
			continue
		}
		for _, s := range b.an.Succs[p] {
			if !r.members[s] {
				return s
			}
		}
	}
	return ir.NoBlock
}

func (b *FunctionBuilder) absorbable(r *loopRegion, x ir.BlockID) bool {
	if !b.an.Dominates(r.header, x) {
		return false
	}
	for _, p := range b.an.Preds[x] {
		if b.an.Reachable(p) && !r.members[p] {
			return false
		}
	}
	return true
}

// absorbTails handles exits that run some code of their own before meeting
// again: every block between the exits and their nearest common
// post-dominator joins the region, which leaves that post-dominator as the
// only exit. It reports false when one of those blocks is not dominated by
// the header or lies outside the enclosing loop.
func (b *FunctionBuilder) absorbTails(r *loopRegion, exits []ir.BlockID) bool {
	join := b.commonPostDominator(exits)
	if join != ir.NoBlock && r.members[join] {
		return false
	}

	tails := make(map[ir.BlockID]bool)
	stack := lane.NewStack()
	for _, x := range exits {
		stack.Push(x)
	}
	for !stack.Empty() {
		cur := stack.Pop().(ir.BlockID)
		if cur == join || tails[cur] || r.members[cur] {
			continue
		}
		if !b.an.Dominates(r.header, cur) || !b.inRegion(cur) {
			return false
		}
		tails[cur] = true
		for _, s := range b.an.Succs[cur] {
			stack.Push(s)
		}
	}
	for x := range tails {
		r.members[x] = true
	}
	return len(tails) > 0
}

// commonPostDominator is the nearest block every path from each of blocks
// to an exit passes through, NoBlock if there is none.
func (b *FunctionBuilder) commonPostDominator(blocks []ir.BlockID) ir.BlockID {
	join := blocks[0]
	for _, x := range blocks[1:] {
		for join != ir.NoBlock && !b.an.PostDominates(join, x) {
			join = b.an.IPDom[join]
		}
	}
	return join
}

func (b *FunctionBuilder) inRegion(id ir.BlockID) bool {
	return len(b.loops) == 0 || b.loops[len(b.loops)-1].members[id]
}

// selectionMerge picks the block where the if ending block id continues
// after both arms, or NoBlock when the arms never meet.
func (b *FunctionBuilder) selectionMerge(id, then, els ir.BlockID) ir.BlockID {
	valid := func(m ir.BlockID) bool {
		return m != ir.NoBlock && m != id &&
			m != b.breakTarget && m != b.continueTarget &&
			!b.generated[m] && b.inRegion(m)
	}

	if m := b.an.IPDom[id]; valid(m) {
		return m
	}
	if id == b.continueTarget {
		return ir.NoBlock
	}
	switch {
	case b.exitArm(then) && valid(els):
		return els
	case b.exitArm(els) && valid(then):
		return then
	}

	// Both arms leave the construct some of the time: continue at the
	// first block, in reverse postorder, that both can reach.
	fromThen, fromElse := b.reach(then), b.reach(els)
	for _, m := range b.an.RPO {
		if fromThen[m] && fromElse[m] && valid(m) {
			return m
		}
	}
	return ir.NoBlock
}

// exitArm reports whether arm x leaves the current construct right away.
func (b *FunctionBuilder) exitArm(x ir.BlockID) bool {
	if x == b.breakTarget || x == b.continueTarget {
		return true
	}
	term := b.src.Block(x).Terminator()
	switch {
	case term == nil:
		return false
	case term.Op.IsExit():
		return true
	case term.Op == ir.OpJump:
		t := term.Targets[0]
		return t == b.breakTarget || t == b.continueTarget
	}
	return false
}

// reach collects the blocks reachable from id without leaving the current
// loop region or passing a pending merge.
func (b *FunctionBuilder) reach(id ir.BlockID) map[ir.BlockID]bool {
	seen := make(map[ir.BlockID]bool)
	stack := lane.NewStack()
	stack.Push(id)
	for !stack.Empty() {
		cur := stack.Pop().(ir.BlockID)
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if cur == b.breakTarget || cur == b.continueTarget || b.merges[cur] || !b.inRegion(cur) {
			continue
		}
		for _, s := range b.an.Succs[cur] {
			if !seen[s] {
				stack.Push(s)
			}
		}
	}
	return seen
}
