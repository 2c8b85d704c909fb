package models

// GridStep is one rung of a trade cycle's ladder. The ladder as a whole is
// immutable once generated; advancing through it is done with an index into
// the slice, never by mutating the rungs.
type GridStep struct {
	Step                     int     `json:"step"`           // 0 = base order, 1..N = insurance orders
	OrderDeviation           float64 `json:"orderDeviation"` // cumulative % drop from entry
	OrderPriceToStep         float64 `json:"orderPriceToStep"`
	OrderBasePairVolume      float64 `json:"orderBasePairVolume"`      // quote (USDT) size
	OrderSecondaryPairVolume float64 `json:"orderSecondaryPairVolume"` // base asset quantity

	// Running totals over rungs 0..Step. The take-profit order is sized from
	// the summarized secondary volume of the most recently triggered rung.
	SummarizedOrderBasePairVolume      float64 `json:"summarizedOrderBasePairVolume"`
	SummarizedOrderSecondaryPairVolume float64 `json:"summarizedOrderSecondaryPairVolume"`

	OrderAveragePrice    float64 `json:"orderAveragePrice"` // volume-weighted entry over rungs 0..Step
	OrderTargetPrice     float64 `json:"orderTargetPrice"`
	OrderTargetDeviation float64 `json:"orderTargetDeviation"` // % from average to target
}

// TradeState is the persisted snapshot of one symbol's trade cycle. It is
// overwritten after every mutation and cleared when the cycle exits, so a
// crash can resume mid-ladder.
type TradeState struct {
	Symbol            string     `json:"symbol"`
	CycleID           string     `json:"cycleId"`
	Strategy          []GridStep `json:"strategy"`    // full ladder, rung 0 first
	CurrentStep       int        `json:"currentStep"` // most recently triggered rung
	BaseOrderID       string     `json:"baseOrderID"`
	OnTakeProfit      bool       `json:"onTakeProfit"`
	TakeProfitOrderID string     `json:"takeProfitOrderID"`
	OnInsurance       bool       `json:"onInsurance"`
	InsuranceOrderID  string     `json:"insuranceOrderID"`
	CurrentPrice      float64    `json:"currentPrice"`
}

// CurrentRung returns the most recently triggered rung, or nil before the
// ladder exists.
func (s *TradeState) CurrentRung() *GridStep {
	if len(s.Strategy) == 0 || s.CurrentStep >= len(s.Strategy) {
		return nil
	}
	return &s.Strategy[s.CurrentStep]
}

// NextRung returns the nearest untriggered insurance rung, or nil when the
// ladder tail is exhausted.
func (s *TradeState) NextRung() *GridStep {
	next := s.CurrentStep + 1
	if next >= len(s.Strategy) {
		return nil
	}
	return &s.Strategy[next]
}

// Empty reports whether the snapshot carries no active cycle.
func (s *TradeState) Empty() bool {
	return s == nil || len(s.Strategy) == 0
}

// Clone returns a deep copy safe to hand outside the owning lock.
func (s *TradeState) Clone() *TradeState {
	if s == nil {
		return nil
	}
	copied := *s
	copied.Strategy = make([]GridStep, len(s.Strategy))
	copy(copied.Strategy, s.Strategy)
	return &copied
}
