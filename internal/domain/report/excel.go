package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/clinicq/clinicq/internal/domain/clinic"
)

const (
	visitSheet   = "Visits"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04"
)

// VisitHeader is the header row of the visits sheet.
var VisitHeader = []string{
	"ID",
	"Name",
	"Room",
	"Status",
	"Registered",
	"Completed",
	"Estimated",
	"Minutes",
}

var visitColumnWidths = []float64{16, 16, 14, 12, 18, 18, 10, 10}

// Workbook renders completed visits and the per-room summary as an xlsx
// file. Times are shown in loc.
func Workbook(patients []clinic.Patient, settings clinic.ClinicSettings, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(visitSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, visitSheet, 1, toAny(VisitHeader)); err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(VisitHeader), 1)
	if err := f.SetCellStyle(visitSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	for i, w := range visitColumnWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(visitSheet, col, col, w); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, v := range Visits(patients, settings) {
		row := []any{
			v.ID,
			v.Name,
			v.RoomName,
			v.Status,
			v.RegisteredAt.In(loc).Format(timeLayout),
			v.CompletedAt.In(loc).Format(timeLayout),
			v.CompletedAtEstimated,
			v.Minutes,
		}
		if err := writeRow(f, visitSheet, i+2, row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeRow(f, summarySheet, 1, []any{"Room", "Waiting", "Completed", "Average minutes"}); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(summarySheet, "A1", "D1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	waiting := waitingByRoom(patients, settings)
	completed := completedByRoom(patients, settings)
	for i := range clinic.Rooms {
		row := []any{
			waiting[i]["room_name"],
			waiting[i]["waiting"],
			completed[i]["completed"],
			completed[i]["average_minutes"],
		}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
