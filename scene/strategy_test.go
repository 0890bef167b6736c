package scene

import (
	"context"
	"errors"
	"testing"
)

func TestExportStrategy_FallsBackOnIncapability(t *testing.T) {
	engine := newStubEngine()
	page, _ := engine.Create(BlockPage)
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		if opts.MimeType == MimeMP4 {
			return nil, errors.New("video/mp4 export is not supported in this runtime")
		}
		return []byte{0x89, 'P', 'N', 'G'}, nil
	}
	logger := &recordLogger{}

	strategy := NewExportStrategy(engine, logger)
	artifact, err := strategy.Export(context.Background(), ExportRequest{
		Target:    page,
		Preferred: MimeMP4,
		Fallback:  MimePNG,
		Options:   ExportOptions{TargetWidth: 640},
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.MimeType() != MimePNG {
		t.Fatalf("expected png artifact, got %s", artifact.MimeType())
	}
	if artifact.Len() == 0 {
		t.Fatalf("expected payload")
	}
	if len(engine.exports) != 2 {
		t.Fatalf("expected exactly two attempts, got %d", len(engine.exports))
	}
	if engine.exports[1].TargetWidth != 0 {
		t.Fatalf("expected fallback to use default options")
	}
	if logger.count("warn") != 1 {
		t.Fatalf("expected substitution diagnostic")
	}
}

func TestExportStrategy_StructuredKindTriggersFallback(t *testing.T) {
	engine := newStubEngine()
	page, _ := engine.Create(BlockPage)
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		if opts.MimeType == MimePDF {
			return nil, NewError(KindUnsupportedFormat, "pdf unavailable", nil)
		}
		return []byte("jpeg"), nil
	}

	artifact, err := NewExportStrategy(engine, nil).Export(context.Background(), ExportRequest{
		Target:    page,
		Preferred: MimePDF,
		Fallback:  MimeJPEG,
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if artifact.MimeType() != MimeJPEG {
		t.Fatalf("expected jpeg, got %s", artifact.MimeType())
	}
	if engine.exports[1].JPEGQuality != 0.9 {
		t.Fatalf("expected jpeg defaults on fallback, got %+v", engine.exports[1])
	}
}

func TestExportStrategy_NoFallbackPropagatesOriginal(t *testing.T) {
	engine := newStubEngine()
	page, _ := engine.Create(BlockPage)
	original := errors.New("Video export is not supported on Node.JS")
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		return nil, original
	}

	_, err := NewExportStrategy(engine, nil).Export(context.Background(), ExportRequest{Target: page, Preferred: MimeMP4})
	if err != original {
		t.Fatalf("expected original error unchanged, got %v", err)
	}
	if len(engine.exports) != 1 {
		t.Fatalf("expected single attempt, got %d", len(engine.exports))
	}
}

func TestExportStrategy_OtherFailuresPropagate(t *testing.T) {
	engine := newStubEngine()
	page, _ := engine.Create(BlockPage)
	original := errors.New("renderer crashed")
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		return nil, original
	}

	_, err := NewExportStrategy(engine, nil).Export(context.Background(), ExportRequest{
		Target:    page,
		Preferred: MimePNG,
		Fallback:  MimeJPEG,
	})
	if err != original {
		t.Fatalf("expected original error, got %v", err)
	}
	if len(engine.exports) != 1 {
		t.Fatalf("expected no retry, got %d attempts", len(engine.exports))
	}
}

func TestExportStrategy_FailedFallbackReturnsOriginal(t *testing.T) {
	engine := newStubEngine()
	page, _ := engine.Create(BlockPage)
	original := errors.New("mp4 not supported in this runtime")
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		if opts.MimeType == MimeMP4 {
			return nil, original
		}
		return nil, errors.New("png encoder failed")
	}

	_, err := NewExportStrategy(engine, nil).Export(context.Background(), ExportRequest{
		Target:    page,
		Preferred: MimeMP4,
		Fallback:  MimePNG,
	})
	if err != original {
		t.Fatalf("expected original error, got %v", err)
	}
	if len(engine.exports) != 2 {
		t.Fatalf("expected one retry only, got %d attempts", len(engine.exports))
	}
}

func TestIsIncapability(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: errors.New("boom"), want: false},
		{err: errors.New("Format NOT SUPPORTED IN THIS RUNTIME"), want: true},
		{err: NewError(KindUnsupportedFormat, "nope", nil), want: true},
		{err: NewError(KindEngine, "wrapped", NewError(KindUnsupportedFormat, "inner", nil)), want: true},
	}
	for _, tc := range cases {
		if got := IsIncapability(tc.err); got != tc.want {
			t.Fatalf("IsIncapability(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
