package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dyxium/dia-core/internal/journal"
)

const (
	summarySheet     = "Summary"
	transitionsSheet = "Guard Transitions"
	rejectionsSheet  = "Rejections"
)

// ExcelStyles holds the style IDs shared by the journal sheets
type ExcelStyles struct {
	HeaderStyle   int
	BaseStyle     int
	PercentStyle  int
	TimeStyle     int
	OverloadStyle int
	RecoveryStyle int
}

// ExcelReporter exports the decision journal to XLSX
type ExcelReporter struct{}

// NewExcelReporter creates a new Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{}
}

// WriteJournalXLSX writes a summary, the guard transitions and the rejected
// orders to path
func (r *ExcelReporter) WriteJournalXLSX(path string, transitions []journal.Transition, rejections []journal.Rejection) error {
	if err := EnsureDirectoryExists(path); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	if _, err := fx.NewSheet(transitionsSheet); err != nil {
		return err
	}
	if _, err := fx.NewSheet(rejectionsSheet); err != nil {
		return err
	}

	styles, err := r.createExcelStyles(fx)
	if err != nil {
		return err
	}

	if err := r.writeSummarySheet(fx, transitions, rejections, styles); err != nil {
		return err
	}
	if err := r.writeTransitionsSheet(fx, transitions, styles); err != nil {
		return err
	}
	if err := r.writeRejectionsSheet(fx, rejections, styles); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func (r *ExcelReporter) createExcelStyles(fx *excelize.File) (ExcelStyles, error) {
	var styles ExcelStyles
	var err error

	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	styles.HeaderStyle, err = fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11, Color: "FFFFFF", Family: "Calibri"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return styles, err
	}

	styles.BaseStyle, err = fx.NewStyle(&excelize.Style{Border: border})
	if err != nil {
		return styles, err
	}

	// values are stored as percent points, so 0.00 with a literal %
	fmtPct := `0.00"%"`
	styles.PercentStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &fmtPct,
		Alignment:    &excelize.Alignment{Horizontal: "right"},
		Border:       border,
	})
	if err != nil {
		return styles, err
	}

	fmtTime := "yyyy-mm-dd hh:mm:ss"
	styles.TimeStyle, err = fx.NewStyle(&excelize.Style{
		CustomNumFmt: &fmtTime,
		Border:       border,
	})
	if err != nil {
		return styles, err
	}

	styles.OverloadStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "C00000", Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"FDECEA"}, Pattern: 1},
		Border: border,
	})
	if err != nil {
		return styles, err
	}

	styles.RecoveryStyle, err = fx.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Color: "008000", Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E8F5E9"}, Pattern: 1},
		Border: border,
	})
	return styles, err
}

func writeHeaders(fx *excelize.File, sheet string, headers []string, style int) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		fx.SetCellValue(sheet, cell, h)
		fx.SetCellStyle(sheet, cell, cell, style)
	}
	fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (r *ExcelReporter) writeSummarySheet(fx *excelize.File, transitions []journal.Transition, rejections []journal.Rejection, styles ExcelStyles) error {
	sheet := summarySheet
	fx.SetColWidth(sheet, "A", "A", 32)
	fx.SetColWidth(sheet, "B", "B", 22)
	writeHeaders(fx, sheet, []string{"Metric", "Value"}, styles.HeaderStyle)

	overloads, recoveries := 0, 0
	for _, t := range transitions {
		if t.Kind == "recovery" {
			recoveries++
		} else {
			overloads++
		}
	}

	byLimit := make(map[string]int)
	for _, rej := range rejections {
		for _, b := range rej.Breaches {
			byLimit[b]++
		}
	}
	limits := make([]string, 0, len(byLimit))
	for l := range byLimit {
		limits = append(limits, l)
	}
	sort.Strings(limits)

	rows := [][]interface{}{
		{"Generated at", time.Now().UTC().Format(time.RFC3339)},
		{"Guard transitions", len(transitions)},
		{"  escalations", overloads},
		{"  recoveries", recoveries},
		{"Rejected orders", len(rejections)},
	}
	for _, l := range limits {
		rows = append(rows, []interface{}{"  breached " + l, byLimit[l]})
	}

	for i, row := range rows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			fx.SetCellValue(sheet, cell, v)
			fx.SetCellStyle(sheet, cell, cell, styles.BaseStyle)
		}
	}
	return nil
}

func (r *ExcelReporter) writeTransitionsSheet(fx *excelize.File, transitions []journal.Transition, styles ExcelStyles) error {
	sheet := transitionsSheet
	fx.SetColWidth(sheet, "A", "A", 20) // Time
	fx.SetColWidth(sheet, "B", "B", 11) // Kind
	fx.SetColWidth(sheet, "C", "D", 10) // From, To
	fx.SetColWidth(sheet, "E", "E", 12) // Max Active
	fx.SetColWidth(sheet, "F", "H", 11) // CPU, RAM, Latency
	fx.SetColWidth(sheet, "I", "I", 48) // Reason

	writeHeaders(fx, sheet, []string{
		"Time", "Kind", "From", "To", "Max Active", "CPU %", "RAM %", "Latency ms", "Reason",
	}, styles.HeaderStyle)

	for i, t := range transitions {
		row := i + 2
		kindStyle := styles.OverloadStyle
		if t.Kind == "recovery" {
			kindStyle = styles.RecoveryStyle
		}

		values := []struct {
			v     interface{}
			style int
		}{
			{t.At.UTC(), styles.TimeStyle},
			{t.Kind, kindStyle},
			{t.From, styles.BaseStyle},
			{t.To, styles.BaseStyle},
			{t.MaxActive, styles.BaseStyle},
			{t.CPUPct, styles.PercentStyle},
			{t.RAMPct, styles.PercentStyle},
			{t.LatencyMs, styles.BaseStyle},
			{t.Reason, styles.BaseStyle},
		}
		for col, cv := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(sheet, cell, cv.v); err != nil {
				return err
			}
			fx.SetCellStyle(sheet, cell, cell, cv.style)
		}
	}
	return nil
}

func (r *ExcelReporter) writeRejectionsSheet(fx *excelize.File, rejections []journal.Rejection, styles ExcelStyles) error {
	sheet := rejectionsSheet
	fx.SetColWidth(sheet, "A", "A", 20) // Time
	fx.SetColWidth(sheet, "B", "B", 12) // Symbol
	fx.SetColWidth(sheet, "C", "D", 12) // Qty, Price
	fx.SetColWidth(sheet, "E", "H", 13) // metrics
	fx.SetColWidth(sheet, "I", "I", 44) // Breaches

	writeHeaders(fx, sheet, []string{
		"Time", "Symbol", "Qty", "Price", "Exposure %", "Orders/min", "Daily Loss %", "Drawdown %", "Breaches",
	}, styles.HeaderStyle)

	for i, rej := range rejections {
		row := i + 2
		values := []struct {
			v     interface{}
			style int
		}{
			{rej.At.UTC(), styles.TimeStyle},
			{rej.Symbol, styles.BaseStyle},
			{rej.Qty, styles.BaseStyle},
			{rej.Price, styles.BaseStyle},
			{rej.ExposurePct, styles.PercentStyle},
			{rej.OrdersLastMin, styles.BaseStyle},
			{rej.DailyLossPct, styles.PercentStyle},
			{rej.DrawdownPct, styles.PercentStyle},
			{strings.Join(rej.Breaches, ", "), styles.OverloadStyle},
		}
		for col, cv := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := fx.SetCellValue(sheet, cell, cv.v); err != nil {
				return err
			}
			fx.SetCellStyle(sheet, cell, cell, cv.style)
		}
	}
	return nil
}
