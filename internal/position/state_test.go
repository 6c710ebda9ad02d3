package position

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ladder/internal/plan"
)

func TestAddFillWeightedAverage(t *testing.T) {
	s := NewState("SOL", plan.Long, 95, 3)

	s.AddFill("Entry", 100, 300)
	assert.InDelta(t, 100, s.AverageEntry(), 1e-9)
	assert.InDelta(t, 300, s.TotalSizeUSD(), 1e-9)
	assert.True(t, s.FirstFill())

	s.AddFill("Rebuy1", 96, 300)
	// (100*300 + 96*300) / 600
	assert.InDelta(t, 98, s.AverageEntry(), 1e-9)
	assert.False(t, s.FirstFill())

	s.AddFill("Rebuy2", 92, 600)
	// (98*600 + 92*600) / 1200
	assert.InDelta(t, 95, s.AverageEntry(), 1e-9)
	assert.InDelta(t, 1200, s.TotalSizeUSD(), 1e-9)
}

func TestAddFillDeduplicatesByLabel(t *testing.T) {
	s := NewState("SOL", plan.Long, 95, 2)
	s.AddFill("Entry", 100, 300)
	s.AddFill("Entry", 100, 300)
	assert.InDelta(t, 300, s.TotalSizeUSD(), 1e-9)
	assert.Equal(t, []string{"Entry"}, s.FilledEntries())
}

func TestMarkTPFilledTracksHighest(t *testing.T) {
	s := NewState("SOL", plan.Long, 95, 1)
	s.AddFill("Entry", 100, 300)

	s.MarkTPFilled("TP1", 1)
	s.MarkTPFilled("TP1", 1) // repeated observation
	assert.Equal(t, 1, s.HighestTPReached())
	assert.True(t, s.InProfit())

	s.MarkTPFilled("TP3", 3)
	assert.Equal(t, 3, s.HighestTPReached())
	assert.Equal(t, []string{"TP1", "TP3"}, s.FilledTPs())
}

func TestPhaseProgression(t *testing.T) {
	s := NewState("SOL", plan.Short, 105, 2)
	assert.Equal(t, PhaseNoFills, s.Phase(true))

	s.AddFill("Entry", 100, 300)
	assert.Equal(t, PhasePartiallyFilled, s.Phase(false))

	s.AddFill("Rebuy1", 104, 300)
	assert.Equal(t, PhaseFullyFilled, s.Phase(false))

	s.MarkTPFilled("TP1", 1)
	assert.Equal(t, PhaseTPHit, s.Phase(false))

	// position gone after fills
	assert.Equal(t, PhaseClosed, s.Phase(true))
}

func TestRestoreSeedsRuntimeState(t *testing.T) {
	s := NewState("SOL", plan.Long, 95, 3)
	s.Restore([]string{"Entry", "Rebuy1"}, []string{"TP1"}, 98, 600, 100.1)

	assert.True(t, s.EverFilled())
	assert.InDelta(t, 98, s.AverageEntry(), 1e-9)
	assert.InDelta(t, 600, s.TotalSizeUSD(), 1e-9)
	assert.InDelta(t, 100.1, s.StopPrice(), 1e-9)
	assert.True(t, s.InProfit())
	assert.Equal(t, 1, s.HighestTPReached())
	assert.Equal(t, PhaseTPHit, s.Phase(false))
}

func TestSnapshotCopiesSlices(t *testing.T) {
	s := NewState("SOL", plan.Long, 95, 2)
	s.AddFill("Entry", 100, 300)
	snap := s.Snapshot()

	snap.FilledEntries[0] = "mutated"
	assert.Equal(t, []string{"Entry"}, s.FilledEntries())
	assert.Equal(t, "partially_filled", snap.Phase)
	assert.Equal(t, "SOL", snap.Symbol)
}
