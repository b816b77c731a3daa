package macros

import (
	"time"

	"github.com/evmacro/evmacro/types"
)

// Step is one recorded event plus its delay since the previous step. The
// first step of a macro always carries a zero delay.
type Step struct {
	Event types.InputEvent `json:"event"`
	Delay time.Duration    `json:"delay"`
}

// Macro is a named, immutable, timed event sequence. The step slice is
// never mutated after the recording commits; edits are delete-and-recreate.
type Macro struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Steps     []Step    `json:"steps"`
}

// Summary returns the listing form of the macro.
func (m *Macro) Summary() types.MacroSummary {
	return types.MacroSummary{
		ID:         m.ID,
		Name:       m.Name,
		EventCount: len(m.Steps),
		CreatedAt:  m.CreatedAt,
	}
}

// Clone returns a deep copy so playback can run on a stable snapshot.
func (m *Macro) Clone() *Macro {
	steps := make([]Step, len(m.Steps))
	copy(steps, m.Steps)
	return &Macro{ID: m.ID, Name: m.Name, CreatedAt: m.CreatedAt, Steps: steps}
}
