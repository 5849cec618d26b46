package hlb

// Simplify tidies a structured function for printing. Empty else arms are
// dropped, an if with only an else arm is inverted, and a void return
// ending the function is removed. With trimContinue, a continue that ends
// a loop body (directly or through the last if in it) is removed too.
func Simplify(fn *Function, trimContinue bool) {
	if fn.Body == nil {
		return
	}
	simplifyBlock(fn.Body, trimContinue)
	if n := len(fn.Body.Stmts); n > 0 {
		if r, ok := fn.Body.Stmts[n-1].(*Return); ok && r.Value == nil {
			fn.Body.Stmts = fn.Body.Stmts[:n-1]
		}
	}
}

func simplifyBlock(b *Block, trim bool) {
	if b == nil {
		return
	}
	stmts := b.Stmts[:0]
	for _, s := range b.Stmts {
		switch s := s.(type) {
		case *If:
			simplifyBlock(s.Then, trim)
			simplifyBlock(s.Else, trim)
			normalizeIf(s)
			// Conditions never call functions, so an empty if does nothing.
			if len(s.Then.Stmts) == 0 && s.Else == nil {
				continue
			}
		case *Loop:
			simplifyBlock(s.Body, trim)
			if trim {
				trimTrailingContinue(s.Body)
			}
		case *Block:
			simplifyBlock(s, trim)
		}
		stmts = append(stmts, s)
	}
	b.Stmts = stmts
}

func normalizeIf(s *If) {
	if s.Else != nil && len(s.Else.Stmts) == 0 {
		s.Else = nil
	}
	if (s.Then == nil || len(s.Then.Stmts) == 0) && s.Else != nil {
		s.Cond = Not(s.Cond)
		s.Then, s.Else = s.Else, nil
	}
	if s.Then == nil {
		s.Then = &Block{}
	}
}

func trimTrailingContinue(b *Block) {
	if b == nil || len(b.Stmts) == 0 {
		return
	}
	switch s := b.Stmts[len(b.Stmts)-1].(type) {
	case *Continue:
		b.Stmts = b.Stmts[:len(b.Stmts)-1]
	case *If:
		trimTrailingContinue(s.Then)
		trimTrailingContinue(s.Else)
		normalizeIf(s)
		if len(s.Then.Stmts) == 0 && s.Else == nil {
			b.Stmts = b.Stmts[:len(b.Stmts)-1]
		}
	}
}
