package reportxlsx

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goliatone/go-sceneexport/scene"
	"github.com/xuri/excelize/v2"
)

const (
	RunsSheet      = "Runs"
	ArtifactsSheet = "Artifacts"

	dateTimeFormat = "yyyy-mm-dd hh:mm:ss"
)

var (
	runHeaders      = []string{"Run", "Job", "State", "Session", "Created", "Completed", "Artifacts", "Error Kind", "Error"}
	artifactHeaders = []string{"Run", "Key", "Content Type", "Bytes", "Filename", "Created"}
)

// Stats reports what was written.
type Stats struct {
	Runs      int
	Artifacts int
	Bytes     int64
}

// Write renders run history as a workbook with one sheet for runs and one
// for their artifacts.
func Write(ctx context.Context, w io.Writer, records []scene.RunRecord) (Stats, error) {
	file := excelize.NewFile()
	defer func() {
		_ = file.Close()
	}()

	defaultSheet := file.GetSheetName(0)
	if defaultSheet != RunsSheet {
		file.SetSheetName(defaultSheet, RunsSheet)
	}
	if _, err := file.NewSheet(ArtifactsSheet); err != nil {
		return Stats{}, reportError("create artifacts sheet", err)
	}

	headerID, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return Stats{}, reportError("create header style", err)
	}
	format := dateTimeFormat
	dateID, err := file.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return Stats{}, reportError("create date style", err)
	}

	stats := Stats{}

	runs, err := file.NewStreamWriter(RunsSheet)
	if err != nil {
		return stats, reportError("open runs sheet", err)
	}
	if err := runs.SetRow("A1", headerRow(runHeaders, headerID)); err != nil {
		return stats, reportError("write runs header", err)
	}
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		row := []interface{}{
			record.ID,
			record.Job,
			string(record.State),
			record.SessionID,
			timeCell(record.CreatedAt, dateID),
			timeCell(record.CompletedAt, dateID),
			len(record.Artifacts),
			string(record.ErrorKind),
			record.Error,
		}
		if err := runs.SetRow(fmt.Sprintf("A%d", i+2), row); err != nil {
			return stats, reportError("write run row", err)
		}
		stats.Runs++
	}
	if err := runs.Flush(); err != nil {
		return stats, reportError("flush runs sheet", err)
	}

	artifacts, err := file.NewStreamWriter(ArtifactsSheet)
	if err != nil {
		return stats, reportError("open artifacts sheet", err)
	}
	if err := artifacts.SetRow("A1", headerRow(artifactHeaders, headerID)); err != nil {
		return stats, reportError("write artifacts header", err)
	}
	rowIndex := 2
	for _, record := range records {
		for _, ref := range record.Artifacts {
			row := []interface{}{
				record.ID,
				ref.Key,
				ref.Meta.ContentType,
				ref.Meta.Size,
				ref.Meta.Filename,
				timeCell(ref.Meta.CreatedAt, dateID),
			}
			if err := artifacts.SetRow(fmt.Sprintf("A%d", rowIndex), row); err != nil {
				return stats, reportError("write artifact row", err)
			}
			rowIndex++
			stats.Artifacts++
		}
	}
	if err := artifacts.Flush(); err != nil {
		return stats, reportError("flush artifacts sheet", err)
	}

	n, err := file.WriteTo(w)
	stats.Bytes = n
	if err != nil {
		return stats, reportError("write workbook", err)
	}
	return stats, nil
}

func headerRow(labels []string, styleID int) []interface{} {
	cells := make([]interface{}, len(labels))
	for i, label := range labels {
		cells[i] = excelize.Cell{StyleID: styleID, Value: label}
	}
	return cells
}

func timeCell(value time.Time, styleID int) interface{} {
	if value.IsZero() {
		return ""
	}
	return excelize.Cell{StyleID: styleID, Value: value.UTC()}
}

func reportError(msg string, err error) error {
	return scene.NewError(scene.KindInternal, msg, err)
}
