// Package report builds the xlsx payment reconciliation report for operators.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"slotbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	paymentsSheet = "Payments"
	summarySheet  = "Summary"
)

var columns = []string{
	"Payment ID", "Booking", "Booking status", "Payment status", "Currency",
	"Amount", "Provider amount", "Refund amount", "Intent", "Refund reference", "Created", "Mismatch",
}

// Source lists payments created in [from, to) joined with their bookings.
type Source interface {
	ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]models.PaymentLedgerEntry, error)
}

// Summary is what the report found, for logging and exit codes.
type Summary struct {
	Payments   int
	Mismatches int
	// Settled sums completed payment amounts per currency, net of refunds.
	Settled map[models.Currency]int64
}

type Exporter struct {
	source Source
	dir    string
	logger *zerolog.Logger
}

func NewExporter(source Source, dir string, logger *zerolog.Logger) *Exporter {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Exporter{source: source, dir: dir, logger: logger}
}

// Export writes payments_<from>_to_<to>.xlsx into the exporter directory and
// returns its path.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (string, Summary, error) {
	if !from.Before(to) {
		return "", Summary{}, fmt.Errorf("report window %s..%s is empty", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", Summary{}, fmt.Errorf("create report directory: %w", err)
	}

	entries, err := e.source.ListPaymentsBetween(ctx, from, to)
	if err != nil {
		return "", Summary{}, fmt.Errorf("list payments: %w", err)
	}

	f, summary, err := Build(entries, from, to)
	if err != nil {
		return "", Summary{}, err
	}
	defer f.Close()

	fileName := fmt.Sprintf("payments_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.dir, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", Summary{}, fmt.Errorf("save report: %w", err)
	}

	e.logger.Info().
		Str("file_path", filePath).
		Int("payments", summary.Payments).
		Int("mismatches", summary.Mismatches).
		Msg("Reconciliation report created")
	return filePath, summary, nil
}

// Build lays out the payment rows and a per-currency summary. Mismatched rows
// are highlighted.
func Build(entries []models.PaymentLedgerEntry, from, to time.Time) (*excelize.File, Summary, error) {
	f := excelize.NewFile()
	summary := Summary{Payments: len(entries), Settled: make(map[models.Currency]int64)}

	index, err := f.NewSheet(paymentsSheet)
	if err != nil {
		f.Close()
		return nil, Summary{}, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	mismatchStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	for i, title := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(paymentsSheet, cell, title)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(columns))
	_ = f.SetCellStyle(paymentsSheet, "A1", lastCol+"1", headerStyle)

	for i, e := range entries {
		row := i + 2
		p := e.Payment
		mismatch := e.Mismatch()
		values := []interface{}{
			p.ID, e.BookingReference, string(e.BookingStatus), string(p.Status), string(p.Currency),
			p.Amount, p.ProviderAmount, p.RefundAmount, p.ProviderIntentID, p.RefundReference,
			p.CreatedAt.UTC().Format(time.RFC3339), mismatch,
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(paymentsSheet, cell, &values); err != nil {
			f.Close()
			return nil, Summary{}, fmt.Errorf("write row %d: %w", row, err)
		}
		if mismatch != "" {
			summary.Mismatches++
			end, _ := excelize.CoordinatesToCellName(len(columns), row)
			_ = f.SetCellStyle(paymentsSheet, cell, end, mismatchStyle)
		}

		switch p.Status {
		case models.PaymentCompleted:
			summary.Settled[p.Currency] += p.Amount
		case models.PaymentRefunded:
			summary.Settled[p.Currency] += p.Amount - p.RefundAmount
		}
	}

	_ = f.SetColWidth(paymentsSheet, "A", "A", 38)
	_ = f.SetColWidth(paymentsSheet, "B", lastCol, 18)
	_ = f.SetPanes(paymentsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if err := writeSummary(f, summary, from, to, headerStyle); err != nil {
		f.Close()
		return nil, Summary{}, err
	}
	return f, summary, nil
}

func writeSummary(f *excelize.File, s Summary, from, to time.Time, headerStyle int) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	_ = f.SetCellValue(summarySheet, "A1", fmt.Sprintf("Period: %s - %s", from.Format("2006-01-02"), to.Format("2006-01-02")))
	_ = f.MergeCell(summarySheet, "A1", "B1")
	_ = f.SetCellStyle(summarySheet, "A1", "B1", headerStyle)

	_ = f.SetCellValue(summarySheet, "A2", "Payments")
	_ = f.SetCellValue(summarySheet, "B2", s.Payments)
	_ = f.SetCellValue(summarySheet, "A3", "Mismatches")
	_ = f.SetCellValue(summarySheet, "B3", s.Mismatches)

	currencies := make([]string, 0, len(s.Settled))
	for cur := range s.Settled {
		currencies = append(currencies, string(cur))
	}
	sort.Strings(currencies)
	for i, cur := range currencies {
		row := i + 5
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Settled "+cur)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), s.Settled[models.Currency(cur)])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 20)
	_ = f.SetColWidth(summarySheet, "B", "B", 18)
	return nil
}
