// Package reporter renders the generated ladder and backtest results as
// console tables.
package reporter

import (
	"fmt"
	"io"
	"os"
	"time"

	"binance-dca-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// PrintLadder renders the full ladder so an operator can sanity-check the
// rung prices and volumes before the cycle runs.
func PrintLadder(symbol string, ladder []models.GridStep) {
	FprintLadder(os.Stdout, symbol, ladder)
}

// FprintLadder is PrintLadder with an explicit destination.
func FprintLadder(w io.Writer, symbol string, ladder []models.GridStep) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Ladder %s", symbol)
	t.AppendHeader(table.Row{
		"Step", "Deviation %", "Price", "Volume USDT", "Volume Qty",
		"Total USDT", "Total Qty", "Avg Price", "Target", "Target Dev %",
	})
	for _, rung := range ladder {
		t.AppendRow(table.Row{
			rung.Step,
			fmt.Sprintf("%.2f", rung.OrderDeviation),
			fmt.Sprintf("%.8g", rung.OrderPriceToStep),
			fmt.Sprintf("%.2f", rung.OrderBasePairVolume),
			fmt.Sprintf("%.8g", rung.OrderSecondaryPairVolume),
			fmt.Sprintf("%.2f", rung.SummarizedOrderBasePairVolume),
			fmt.Sprintf("%.8g", rung.SummarizedOrderSecondaryPairVolume),
			fmt.Sprintf("%.8g", rung.OrderAveragePrice),
			fmt.Sprintf("%.8g", rung.OrderTargetPrice),
			fmt.Sprintf("%.2f", rung.OrderTargetDeviation),
		})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

// BacktestSummary holds the outcome of one backtest run.
type BacktestSummary struct {
	Symbol           string
	DataPath         string
	StartTime        time.Time
	EndTime          time.Time
	InitialBalance   float64
	EndingCash       float64
	EndingAssetQty   float64
	EndingAssetValue float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	CompletedCycles  int
	OrdersPlaced     int
	DeepestRungUsed  int
}

// Finalize derives the profit fields from the balances.
func (s *BacktestSummary) Finalize() {
	s.FinalBalance = s.EndingCash + s.EndingAssetValue
	s.TotalProfit = s.FinalBalance - s.InitialBalance
	if s.InitialBalance != 0 {
		s.ProfitPercentage = s.TotalProfit / s.InitialBalance * 100
	}
}

// PrintSummary renders the backtest report.
func PrintSummary(s *BacktestSummary) {
	FprintSummary(os.Stdout, s)
}

// FprintSummary is PrintSummary with an explicit destination.
func FprintSummary(w io.Writer, s *BacktestSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Backtest %s", s.Symbol)
	t.AppendRows([]table.Row{
		{"Data file", s.DataPath},
		{"Period", fmt.Sprintf("%s to %s",
			s.StartTime.Format("2006-01-02 15:04"), s.EndTime.Format("2006-01-02 15:04"))},
		{"Initial balance", fmt.Sprintf("%.2f USDT", s.InitialBalance)},
		{"Final balance", fmt.Sprintf("%.2f USDT", s.FinalBalance)},
		{"Total profit", fmt.Sprintf("%.2f USDT", s.TotalProfit)},
		{"Return", fmt.Sprintf("%.2f%%", s.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Completed cycles", s.CompletedCycles},
		{"Orders placed", s.OrdersPlaced},
		{"Deepest rung used", s.DeepestRungUsed},
		{"Ending cash", fmt.Sprintf("%.2f USDT", s.EndingCash)},
		{"Ending position", fmt.Sprintf("%.8g (%.2f USDT)", s.EndingAssetQty, s.EndingAssetValue)},
	})
	t.SetStyle(table.StyleLight)
	t.Render()
}
