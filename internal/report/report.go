// Package report renders chat summaries and shipments as Excel workbooks.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/SupportPipe/internal/models"
	"github.com/xuri/excelize/v2"
)

// Workbook file names written by the Export methods.
const (
	ChatSummaryFile = "chat_summaries.xlsx"
	ShipmentFile    = "shipments.xlsx"

	ChatSummarySheet = "Chat Summaries"
	ShipmentSheet    = "Shipments"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	chatSummaryHeader = []interface{}{
		"Session ID", "User ID", "Order ID", "Issue Type", "Summary", "Proposed Solution",
		"Customer Sentiment", "Resolution Status", "Shipment ID", "Shipment Type", "Created At",
	}
	shipmentHeader = []interface{}{
		"Shipment ID", "Type", "User ID", "Order ID", "Product ID", "Address", "Created At",
		"Current Stage", "Progress %", "Delivered", "Estimated Completion",
	}
)

// Source lists the records that go into reports.
type Source interface {
	ListSummaries(ctx context.Context) ([]models.ConversationSummary, error)
	ListShipments(ctx context.Context) ([]models.Shipment, error)
}

// StatusFunc derives the current status of a shipment.
type StatusFunc func(models.Shipment) models.ShipmentStatus

// Reporter builds workbooks from a Source.
type Reporter struct {
	src    Source
	status StatusFunc
	dir    string
}

// NewReporter creates a Reporter that exports into dir.
func NewReporter(src Source, status StatusFunc, dir string) *Reporter {
	return &Reporter{src: src, status: status, dir: dir}
}

// Dir returns the export directory.
func (r *Reporter) Dir() string {
	return r.dir
}

// WriteChatSummaries writes the chat summary workbook to w.
func (r *Reporter) WriteChatSummaries(ctx context.Context, w io.Writer) error {
	summaries, err := r.src.ListSummaries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list summaries: %w", err)
	}
	rows := make([][]interface{}, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []interface{}{
			s.SessionID, s.UserID, s.OrderID, s.IssueType, s.Summary, s.ProposedSolution,
			s.CustomerSentiment, s.ResolutionStatus, s.ShipmentID, string(s.ShipmentType), formatTime(s.CreatedAt),
		})
	}
	return writeWorkbook(w, ChatSummarySheet, chatSummaryHeader, rows)
}

// WriteShipments writes the shipment workbook, with live status columns, to w.
func (r *Reporter) WriteShipments(ctx context.Context, w io.Writer) error {
	shipments, err := r.src.ListShipments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shipments: %w", err)
	}
	rows := make([][]interface{}, 0, len(shipments))
	for _, s := range shipments {
		row := []interface{}{
			s.ID, s.Kind.Label(), s.UserID, s.OrderID, s.ProductID, s.Address, formatTime(s.CreatedAt),
		}
		if r.status != nil {
			st := r.status(s)
			row = append(row, st.CurrentStageName, fmt.Sprintf("%.0f", st.ProgressPercent), st.Delivered, formatTime(st.EstimatedCompletionAt))
		}
		rows = append(rows, row)
	}
	return writeWorkbook(w, ShipmentSheet, shipmentHeader, rows)
}

// ExportChatSummaries writes ChatSummaryFile into the export directory.
func (r *Reporter) ExportChatSummaries(ctx context.Context) (string, error) {
	return r.export(ctx, ChatSummaryFile, r.WriteChatSummaries)
}

// ExportShipments writes ShipmentFile into the export directory.
func (r *Reporter) ExportShipments(ctx context.Context) (string, error) {
	return r.export(ctx, ShipmentFile, r.WriteShipments)
}

// export writes to a temporary file and renames it, so readers never see a partial
// workbook.
func (r *Reporter) export(ctx context.Context, name string, write func(context.Context, io.Writer) error) (string, error) {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(ctx, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	path := filepath.Join(r.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move report into place: %w", err)
	}
	slog.Info("Reporter.export: report written", "path", path)
	return path, nil
}

func writeWorkbook(w io.Writer, sheet string, header []interface{}, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
