package reportxlsx

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-sceneexport/scene"
	"github.com/xuri/excelize/v2"
)

func TestWrite_RunsAndArtifacts(t *testing.T) {
	created := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	records := []scene.RunRecord{
		{
			ID:        "run-2",
			Job:       "multi-page",
			State:     scene.RunCompleted,
			CreatedAt: created,
			Artifacts: []scene.ArtifactRef{
				{Key: "assets/page(1).png", Meta: scene.ArtifactMeta{ContentType: "image/png", Size: 120}},
				{Key: "assets/page(2).png", Meta: scene.ArtifactMeta{ContentType: "image/png", Size: 140}},
			},
		},
		{
			ID:        "run-1",
			Job:       "video",
			State:     scene.RunFailed,
			ErrorKind: scene.KindUnsupportedFormat,
			Error:     "video/mp4 export is not supported in this runtime",
			CreatedAt: created.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	stats, err := Write(context.Background(), &buf, records)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if stats.Runs != 2 || stats.Artifacts != 2 || stats.Bytes == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	file, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() {
		_ = file.Close()
	}()

	rows, err := file.GetRows(RunsSheet)
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 runs, got %d", len(rows))
	}
	if rows[0][0] != "Run" || rows[1][0] != "run-2" || rows[1][2] != "completed" || rows[1][6] != "2" {
		t.Fatalf("unexpected run rows %v", rows)
	}
	if rows[2][7] != "unsupported_format" {
		t.Fatalf("expected error kind column, got %v", rows[2])
	}

	artifacts, err := file.GetRows(ArtifactsSheet)
	if err != nil {
		t.Fatalf("get artifacts: %v", err)
	}
	if len(artifacts) != 3 || artifacts[2][1] != "assets/page(2).png" || artifacts[2][3] != "140" {
		t.Fatalf("unexpected artifact rows %v", artifacts)
	}
}

func TestWrite_EmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	stats, err := Write(context.Background(), &buf, nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if stats.Runs != 0 || buf.Len() == 0 {
		t.Fatalf("expected workbook with headers only, got %+v", stats)
	}
}

func TestWrite_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Write(ctx, &bytes.Buffer{}, []scene.RunRecord{{ID: "run-1"}})
	if scene.KindFromError(err) != scene.KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}
