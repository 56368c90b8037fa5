package reporting

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dyxium/dia-core/internal/journal"
)

// CSVReporter writes journal rows as CSV
type CSVReporter struct{}

// NewCSVReporter creates a new CSV reporter
func NewCSVReporter() *CSVReporter {
	return &CSVReporter{}
}

// WriteRejectionsCSV writes rejected orders to path. A .xlsx path is
// delegated to the Excel writer with an empty transitions sheet.
func (r *CSVReporter) WriteRejectionsCSV(rejections []journal.Rejection, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return NewExcelReporter().WriteJournalXLSX(path, nil, rejections)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"ID",
		"Time_UTC",
		"Symbol",
		"Qty",
		"Price",
		"Breaches",
		"Exposure_%",
		"Orders_Last_Min",
		"Daily_Loss_%",
		"Drawdown_%",
	}); err != nil {
		return err
	}

	for _, rej := range rejections {
		if err := w.Write([]string{
			rej.ID,
			rej.At.UTC().Format(time.RFC3339),
			rej.Symbol,
			rej.Qty,
			rej.Price,
			strings.Join(rej.Breaches, ";"),
			formatFloat(rej.ExposurePct),
			strconv.Itoa(rej.OrdersLastMin),
			formatFloat(rej.DailyLossPct),
			formatFloat(rej.DrawdownPct),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WriteTransitionsCSV writes guard transitions to path
func (r *CSVReporter) WriteTransitionsCSV(transitions []journal.Transition, path string) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"ID", "Time_UTC", "Kind", "From", "To", "Max_Active", "CPU_%", "RAM_%", "Latency_ms", "Reason"}); err != nil {
		return err
	}
	for _, t := range transitions {
		if err := w.Write([]string{
			t.ID,
			t.At.UTC().Format(time.RFC3339),
			t.Kind,
			t.From,
			t.To,
			strconv.Itoa(t.MaxActive),
			formatFloat(t.CPUPct),
			formatFloat(t.RAMPct),
			formatFloat(t.LatencyMs),
			t.Reason,
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
