package position

import (
	"fmt"
	"sync"

	"ladder/internal/plan"

	"github.com/shopspring/decimal"
)

// Phase is the explicit fill progression of a trade. Modeling it as one
// value (instead of inferring it from flag/list combinations) keeps
// illegal states unrepresentable.
type Phase int

const (
	PhaseNoFills Phase = iota
	PhasePartiallyFilled
	PhaseFullyFilled
	PhaseTPHit
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNoFills:
		return "no_fills"
	case PhasePartiallyFilled:
		return "partially_filled"
	case PhaseFullyFilled:
		return "fully_filled"
	case PhaseTPHit:
		return "tp_hit"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the mutable runtime snapshot of one position. It is owned by
// the trade's OrderManager/Monitor pair; the mutex only guards the
// read-only views handed to the HTTP layer and reconciliation.
type State struct {
	mu sync.RWMutex

	symbol    string
	direction plan.Direction

	totalSizeUSD float64
	averageEntry float64
	everFilled   bool

	filledEntries []string
	filledTPs     []string
	totalEntries  int

	currentSLPrice   float64
	currentSLOrderID string

	inProfit         bool
	highestTPReached int
}

func NewState(symbol string, direction plan.Direction, initialStop float64, totalEntries int) *State {
	return &State{
		symbol:         symbol,
		direction:      direction,
		currentSLPrice: initialStop,
		totalEntries:   totalEntries,
	}
}

func (s *State) Symbol() string            { return s.symbol }
func (s *State) Direction() plan.Direction { return s.direction }

// AddFill records a filled entry and recomputes the weighted average:
// newAvg = (oldAvg*oldSize + fillPrice*fillSize) / (oldSize + fillSize).
func (s *State) AddFill(label string, price, sizeUSD float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.filledEntries {
		if l == label {
			return
		}
	}
	oldAvg := decimal.NewFromFloat(s.averageEntry)
	oldSize := decimal.NewFromFloat(s.totalSizeUSD)
	fillPrice := decimal.NewFromFloat(price)
	fillSize := decimal.NewFromFloat(sizeUSD)

	totalValue := oldAvg.Mul(oldSize).Add(fillPrice.Mul(fillSize))
	newSize := oldSize.Add(fillSize)
	if newSize.IsPositive() {
		avg, _ := totalValue.Div(newSize).Float64()
		s.averageEntry = avg
	} else {
		s.averageEntry = 0
	}
	size, _ := newSize.Float64()
	s.totalSizeUSD = size
	s.everFilled = true
	s.filledEntries = append(s.filledEntries, label)
}

// MarkTPFilled records a TP fill; level indexes are 1-based.
func (s *State) MarkTPFilled(level string, index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.filledTPs {
		if l == level {
			return
		}
	}
	s.filledTPs = append(s.filledTPs, level)
	if index > s.highestTPReached {
		s.highestTPReached = index
	}
	s.inProfit = true
}

func (s *State) SetStop(price float64, orderID string) {
	s.mu.Lock()
	s.currentSLPrice = price
	s.currentSLOrderID = orderID
	s.mu.Unlock()
}

// Restore seeds runtime state from persisted fields during a monitoring
// resume. No exchange calls are made here.
func (s *State) Restore(filledEntries, filledTPs []string, avgEntry, totalSizeUSD, slPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filledEntries = append([]string(nil), filledEntries...)
	s.filledTPs = append([]string(nil), filledTPs...)
	s.highestTPReached = len(filledTPs)
	if avgEntry > 0 {
		s.averageEntry = avgEntry
	}
	if totalSizeUSD > 0 {
		s.totalSizeUSD = totalSizeUSD
		s.everFilled = true
	}
	if slPrice > 0 {
		s.currentSLPrice = slPrice
	}
	s.inProfit = len(filledTPs) > 0
}

func (s *State) AverageEntry() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.averageEntry
}

func (s *State) TotalSizeUSD() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalSizeUSD
}

func (s *State) EverFilled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.everFilled
}

func (s *State) StopPrice() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSLPrice
}

func (s *State) StopOrderID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSLOrderID
}

func (s *State) InProfit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inProfit
}

func (s *State) HighestTPReached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highestTPReached
}

func (s *State) FilledEntries() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.filledEntries...)
}

func (s *State) FilledTPs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.filledTPs...)
}

func (s *State) FirstFill() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filledEntries) == 1
}

// Phase derives the explicit progression value from the recorded fills.
func (s *State) Phase(flat bool) Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case flat && s.everFilled:
		return PhaseClosed
	case len(s.filledTPs) > 0:
		return PhaseTPHit
	case s.totalEntries > 0 && len(s.filledEntries) >= s.totalEntries:
		return PhaseFullyFilled
	case len(s.filledEntries) > 0:
		return PhasePartiallyFilled
	default:
		return PhaseNoFills
	}
}

// Snapshot is the read-only view served over HTTP.
type Snapshot struct {
	Symbol           string         `json:"symbol"`
	Direction        plan.Direction `json:"direction"`
	TotalSizeUSD     float64        `json:"total_size_usd"`
	AverageEntry     float64        `json:"average_entry"`
	FilledEntries    []string       `json:"filled_entries"`
	FilledTPs        []string       `json:"filled_tps"`
	CurrentSLPrice   float64        `json:"current_sl_price"`
	InProfit         bool           `json:"is_in_profit"`
	HighestTPReached int            `json:"highest_tp_reached"`
	Phase            string         `json:"phase"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phase := PhaseNoFills
	switch {
	case len(s.filledTPs) > 0:
		phase = PhaseTPHit
	case s.totalEntries > 0 && len(s.filledEntries) >= s.totalEntries:
		phase = PhaseFullyFilled
	case len(s.filledEntries) > 0:
		phase = PhasePartiallyFilled
	}
	return Snapshot{
		Symbol:           s.symbol,
		Direction:        s.direction,
		TotalSizeUSD:     s.totalSizeUSD,
		AverageEntry:     s.averageEntry,
		FilledEntries:    append([]string(nil), s.filledEntries...),
		FilledTPs:        append([]string(nil), s.filledTPs...),
		CurrentSLPrice:   s.currentSLPrice,
		InProfit:         s.inProfit,
		HighestTPReached: s.highestTPReached,
		Phase:            phase.String(),
	}
}
