package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

const (
	summarySheet  = "Summary"
	byStatusSheet = "Campaigns by status"
)

// ExportReport renders a stored report as an xlsx workbook with a summary
// sheet and a per-status breakdown.
func (s *ReportService) ExportReport(ctx context.Context, id string) (string, []byte, error) {
	report, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return "", nil, err
	}
	data, err := ReportWorkbook(report)
	if err != nil {
		return "", nil, err
	}
	filename := fmt.Sprintf("report_%s_%s.xlsx", report.Type, report.PeriodEnd.UTC().Format("20060102"))
	return filename, data, nil
}

// ReportWorkbook builds the xlsx bytes for r.
func ReportWorkbook(r *model.Report) ([]byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := xl.SetSheetName(xl.GetSheetName(0), summarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	rows := [][]interface{}{
		{"report_id", r.ID},
		{"type", r.Type},
		{"period_start", r.PeriodStart.UTC().Format(time.RFC3339)},
		{"period_end", r.PeriodEnd.UTC().Format(time.RFC3339)},
		{"campaigns", r.Summary.Campaigns},
		{"recipients", r.Summary.Recipients},
		{"sent", r.Summary.Sent},
		{"failed", r.Summary.Failed},
		{"pending", r.Summary.Pending},
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := xl.SetSheetRow(summarySheet, cell, &rows[i]); err != nil {
			return nil, fmt.Errorf("write summary row: %w", err)
		}
	}

	if _, err := xl.NewSheet(byStatusSheet); err != nil {
		return nil, fmt.Errorf("add sheet: %w", err)
	}
	header := []interface{}{"status", "campaigns"}
	if err := xl.SetSheetRow(byStatusSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	statuses := make([]string, 0, len(r.Summary.CampaignsByStatus))
	for st := range r.Summary.CampaignsByStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for i, st := range statuses {
		row := []interface{}{st, r.Summary.CampaignsByStatus[st]}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(byStatusSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write status row: %w", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
