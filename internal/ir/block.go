package ir

// BrTarget names a successor block and the values bound to its
// parameters on entry.
type BrTarget struct {
	Block BlockID
	Args  []ValueID
}

// Block is one basic block: parameters, a straight-line instruction
// sequence and exactly one terminator.
type Block struct {
	ID     BlockID
	Params []ValueID
	Instrs []Instr
	Term   Terminator
}

// Terminated reports whether the block carries a terminator.
func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

// TermKind enumerates terminator kinds.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermReturn
	TermBr
	TermBrIf
	TermBrTable
	TermTrap
)

// Terminator ends a block. TermTrap covers the unreachable operator and
// any unconditional trap; it has no successors.
type Terminator struct {
	Kind TermKind
	Off  uint32

	Return  ReturnTerm
	Br      BrTarget
	BrIf    BrIfTerm
	BrTable BrTableTerm
	Trap    TrapTerm
}

type ReturnTerm struct {
	Values []ValueID
}

type BrIfTerm struct {
	Cond ValueID
	Then BrTarget
	Else BrTarget
}

// BrTableTerm branches to Targets[Index] or Default when Index is out
// of range.
type BrTableTerm struct {
	Index   ValueID
	Targets []BrTarget
	Default BrTarget
}

type TrapTerm struct {
	Reason TrapReason
}
