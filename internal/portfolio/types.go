package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Portfolio data model consumed by the risk-integrity core
// ═══════════════════════════════════════════════════════════════════════════════

// Side of a position
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Status of a position's lifecycle
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusPending Status = "PENDING"
)

// Position represents a single trade record, open or closed
type Position struct {
	ID            string
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	Status        Status
	Timestamp     time.Time // entry time
}

// Notional returns the absolute current market value of the position
func (p *Position) Notional() decimal.Decimal {
	return p.Size.Mul(p.CurrentPrice).Abs()
}

// Portfolio is the aggregate account state. The stated aggregates
// (TotalPnL, DayPnL, Equity, AvailableBalance) are maintained by the
// owning session and audited by the reconciliation engine.
type Portfolio struct {
	BaseCapital      decimal.Decimal // capital at session start, immutable
	AvailableBalance decimal.Decimal
	LockedProfits    decimal.Decimal
	Positions        []Position // insertion order = chronological
	TotalPnL         decimal.Decimal
	DayPnL           decimal.Decimal
	Equity           decimal.Decimal
}

// OpenPositions returns the positions currently open, in order
func (pf *Portfolio) OpenPositions() []Position {
	var open []Position
	for _, p := range pf.Positions {
		if p.Status == StatusOpen {
			open = append(open, p)
		}
	}
	return open
}

// ClosedPositions returns the positions already closed, in order
func (pf *Portfolio) ClosedPositions() []Position {
	var closed []Position
	for _, p := range pf.Positions {
		if p.Status == StatusClosed {
			closed = append(closed, p)
		}
	}
	return closed
}

// Exposure returns the total absolute market value of open positions
func (pf *Portfolio) Exposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range pf.Positions {
		if p.Status == StatusOpen {
			total = total.Add(p.Notional())
		}
	}
	return total
}

// Clone returns a deep copy (the positions slice is the only reference field)
func (pf *Portfolio) Clone() *Portfolio {
	cp := *pf
	cp.Positions = make([]Position, len(pf.Positions))
	copy(cp.Positions, pf.Positions)
	return &cp
}

// Direction of a predicted move
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
	DirectionSkip Direction = "SKIP"
)

// Prediction is the opaque signal from the upstream prediction pipeline.
// The core consumes these numbers; it never computes them.
type Prediction struct {
	Direction      Direction
	Confidence     float64 // 0-100
	ExpectedReturn float64 // percent, signed
	RiskScore      float64 // 0-100, higher = riskier
	TimeHorizon    time.Duration
}
