package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
)

// ExportFormat names a supported audit export encoding.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// ExportResult carries a rendered audit export.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders the approval audit trail for download.
type ExportService struct {
	store  approvalStore
	logger *zap.Logger
}

// NewExportService constructs the service.
func NewExportService(store approvalStore, logger *zap.Logger) *ExportService {
	return &ExportService{store: store, logger: logger}
}

// History renders every audit entry in [from, to) in the requested format.
func (s *ExportService) History(ctx context.Context, format ExportFormat, from, to time.Time) (*ExportResult, error) {
	entries, err := s.store.ListHistoryRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load history range: %w", err)
	}

	stamp := time.Now().Format("20060102-150405")
	switch format {
	case FormatCSV:
		data, err := renderHistoryCSV(entries)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("approval-history-%s.csv", stamp),
			ContentType: "text/csv",
			Data:        data,
		}, nil
	case FormatPDF:
		data, err := renderHistoryPDF(entries, from, to)
		if err != nil {
			return nil, err
		}
		return &ExportResult{
			Filename:    fmt.Sprintf("approval-history-%s.pdf", stamp),
			ContentType: "application/pdf",
			Data:        data,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

var historyColumns = []string{"Timestamp", "Approval ID", "Action", "Actor", "Role", "Comment"}

func historyRow(e models.HistoryEntry) []string {
	return []string{
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.ApprovalID,
		e.Action,
		e.Actor,
		e.ActorRole,
		e.Comment,
	}
}

func renderHistoryCSV(entries []models.HistoryEntry) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(historyColumns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, entry := range entries {
		if err := writer.Write(historyRow(entry)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Column widths tuned for A4 landscape; comment gets the leftover space.
var historyWidths = []float64{38, 72, 22, 28, 24, 93}

func renderHistoryPDF(entries []models.HistoryEntry, from, to time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, "APPROVAL AUDIT TRAIL", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	window := fmt.Sprintf("%s to %s", from.UTC().Format("2006-01-02"), to.UTC().Format("2006-01-02"))
	pdf.CellFormat(0, 6, window, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	for i, header := range historyColumns {
		pdf.CellFormat(historyWidths[i], 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, entry := range entries {
		for i, value := range historyRow(entry) {
			pdf.CellFormat(historyWidths[i], 7, value, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
