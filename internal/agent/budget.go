package agent

import "fmt"

const DefaultMaxEdits = 3

// EditBudget counts accepted create commands within one turn.
type EditBudget struct {
	max  int
	used int
}

func NewEditBudget(max int) *EditBudget {
	if max < 0 {
		max = 0
	}
	return &EditBudget{max: max}
}

// TryConsume takes one edit if any remain.
func (b *EditBudget) TryConsume() bool {
	if b.used >= b.max {
		return false
	}
	b.used++
	return true
}

func (b *EditBudget) Used() int { return b.used }
func (b *EditBudget) Max() int  { return b.max }

func (b *EditBudget) Notice() string {
	return fmt.Sprintf("SYSTEM NOTICE: Maximum refinement steps (%d) reached. You MUST STOP now. Do not generate any more code.", b.max)
}
