package scene

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// dirStore writes artifacts under root and lists root-relative directories.
type dirStore struct {
	root      string
	exclusive bool
	conflicts int
	puts      []string
}

func (s *dirStore) Put(ctx context.Context, key string, r io.Reader, meta ArtifactMeta) (ArtifactRef, error) {
	_ = ctx
	target := filepath.Join(s.root, filepath.FromSlash(key))
	if s.conflicts > 0 {
		s.conflicts--
		if err := os.WriteFile(target, []byte("other writer"), 0o644); err != nil {
			return ArtifactRef{}, err
		}
		return ArtifactRef{}, NewError(KindConflict, "artifact exists", nil)
	}
	if s.exclusive {
		if _, err := os.Stat(target); err == nil {
			return ArtifactRef{}, NewError(KindConflict, "artifact exists", nil)
		}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return ArtifactRef{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ArtifactRef{}, err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return ArtifactRef{}, err
	}
	s.puts = append(s.puts, key)
	meta.Size = int64(len(data))
	return ArtifactRef{Key: key, Meta: meta}, nil
}

func (s *dirStore) List(ctx context.Context, dir string) ([]string, error) {
	return OSDirLister{}.List(ctx, filepath.Join(s.root, filepath.FromSlash(dir)))
}

func (s *dirStore) Locate(key string) (string, error) {
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func pageJob(template string, mime MimeType) Job {
	return Job{
		Name: "test",
		Scene: SceneSpec{
			Pages: []PageSpec{{
				Label:  "page",
				Width:  40,
				Height: 30,
				Blocks: []BlockSpec{{Label: "photo", Type: BlockGraphic, Width: 300, Height: 200}},
			}},
		},
		Exports: []ExportSpec{{Mime: string(mime), Template: template}},
	}
}

func newTestPipeline(t *testing.T, engine Engine) (*Pipeline, *dirStore) {
	t.Helper()
	store := &dirStore{root: t.TempDir()}
	sessions := NewSessionManager(EngineFactoryFunc(func(ctx context.Context, cfg SessionConfig) (Engine, error) {
		return engine, nil
	}))
	pipeline := NewPipeline(sessions, testConfig(), store)
	pipeline.OutputDir = "assets"
	return pipeline, store
}

func TestPipeline_WritesNextIndexedArtifact(t *testing.T) {
	engine := newStubEngine()
	pipeline, store := newTestPipeline(t, engine)
	logger := &recordLogger{}
	pipeline.Logger = logger

	assets := filepath.Join(store.root, "assets")
	if err := os.MkdirAll(assets, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	touch(t, assets, "out(3).png")

	result, err := pipeline.Run(context.Background(), pageJob("out(N).png", MimePNG))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Artifacts) != 1 {
		t.Fatalf("expected one artifact, got %d", len(result.Artifacts))
	}
	written := filepath.Join(assets, "out(4).png")
	info, err := os.Stat(written)
	if err != nil {
		t.Fatalf("expected %s: %v", written, err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected non-empty artifact")
	}
	if result.Artifacts[0].Location != written {
		t.Fatalf("expected location %s, got %s", written, result.Artifacts[0].Location)
	}
	if engine.disposed != 1 {
		t.Fatalf("expected session released, got %d disposals", engine.disposed)
	}
	if logger.count("info") != 1 {
		t.Fatalf("expected artifact path diagnostic")
	}
}

func TestPipeline_ReleasesSessionOnFailure(t *testing.T) {
	engine := newStubEngine()
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		return nil, errors.New("renderer crashed")
	}
	pipeline, store := newTestPipeline(t, engine)
	tracker := NewMemoryTracker()
	pipeline.Tracker = tracker

	result, err := pipeline.Run(context.Background(), pageJob("out(N).png", MimePNG))
	if err == nil {
		t.Fatalf("expected export failure")
	}
	if engine.disposed != 1 {
		t.Fatalf("expected release on failure, got %d", engine.disposed)
	}
	if pipeline.Sessions.State() != SessionDisposed {
		t.Fatalf("expected disposed state, got %s", pipeline.Sessions.State())
	}
	if len(store.puts) != 0 {
		t.Fatalf("expected nothing persisted")
	}
	record, err := tracker.Status(context.Background(), result.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if record.State != RunFailed || record.Error == "" {
		t.Fatalf("expected failed record, got %+v", record)
	}
}

func TestPipeline_FallbackRenamesExtension(t *testing.T) {
	engine := newStubEngine()
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		if opts.MimeType == MimeMP4 {
			return nil, NewError(KindUnsupportedFormat, "video/mp4 is not supported in this runtime", nil)
		}
		return []byte("png-bytes"), nil
	}
	pipeline, store := newTestPipeline(t, engine)

	job := pageJob("video(N).mp4", MimeMP4)
	job.Exports[0].Fallback = string(MimePNG)
	result, err := pipeline.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	artifact := result.Artifacts[0]
	if artifact.MimeType != MimePNG || artifact.Requested != MimeMP4 {
		t.Fatalf("expected png produced for mp4 request, got %+v", artifact)
	}
	if artifact.Name.BaseName != "video(1).png" {
		t.Fatalf("expected video(1).png, got %s", artifact.Name.BaseName)
	}
	if _, err := os.Stat(filepath.Join(store.root, "assets", "video(1).png")); err != nil {
		t.Fatalf("expected fallback file: %v", err)
	}
}

func TestPipeline_TransformsBeforeExport(t *testing.T) {
	engine := newStubEngine()
	pipeline, _ := newTestPipeline(t, engine)

	job := pageJob("scaled(N).png", MimePNG)
	job.Transforms = []TransformSpec{{Kind: TransformScale, Target: Selector{Label: "photo"}, Factor: 1.9, Min: 0.5, Max: 2.0}}
	job.Exports[0].Target = Selector{Label: "photo"}
	var exportedSize Size
	engine.exportFn = func(ctx context.Context, id BlockID, opts ExportOptions) ([]byte, error) {
		exportedSize, _ = engine.Size(id)
		return []byte("png"), nil
	}

	if _, err := pipeline.Run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}
	if exportedSize.Width != 300*1.9 || exportedSize.Height != 200*1.9 {
		t.Fatalf("expected 570x380 at export time, got %gx%g", exportedSize.Width, exportedSize.Height)
	}
}

func TestPipeline_EachPageSharesOneSession(t *testing.T) {
	engine := newStubEngine()
	var calls int
	sessions := NewSessionManager(EngineFactoryFunc(func(ctx context.Context, cfg SessionConfig) (Engine, error) {
		calls++
		return engine, nil
	}))
	store := &dirStore{root: t.TempDir()}
	pipeline := NewPipeline(sessions, testConfig(), store)

	job := Job{
		Name: "pages",
		Scene: SceneSpec{
			Layout: LayoutVerticalStack,
			Pages:  []PageSpec{{Width: 10, Height: 10}, {Width: 10, Height: 10}, {Width: 10, Height: 10}},
		},
		Exports: []ExportSpec{{Target: Selector{EachPage: true}, Mime: "png", Template: "page-{N}.png"}},
	}
	result, err := pipeline.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Artifacts) != 3 {
		t.Fatalf("expected three artifacts, got %d", len(result.Artifacts))
	}
	for i, artifact := range result.Artifacts {
		if artifact.Name.Index != i+1 {
			t.Fatalf("expected index %d, got %d", i+1, artifact.Name.Index)
		}
	}
	if calls != 1 || engine.disposed != 1 {
		t.Fatalf("expected one session for all pages, got %d inits %d disposals", calls, engine.disposed)
	}
}

func TestPipeline_RetriesNameOnConflict(t *testing.T) {
	engine := newStubEngine()
	pipeline, store := newTestPipeline(t, engine)
	store.exclusive = true
	store.conflicts = 1

	result, err := pipeline.Run(context.Background(), pageJob("out(N).png", MimePNG))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Artifacts[0].Name.BaseName != "out(2).png" {
		t.Fatalf("expected out(2).png after conflict, got %s", result.Artifacts[0].Name.BaseName)
	}
}

func TestPipeline_MissingLicenseFailsBeforeEngine(t *testing.T) {
	var calls int
	sessions := NewSessionManager(EngineFactoryFunc(func(ctx context.Context, cfg SessionConfig) (Engine, error) {
		calls++
		return newStubEngine(), nil
	}))
	pipeline := NewPipeline(sessions, SessionConfig{}, &dirStore{root: t.TempDir()})

	_, err := pipeline.Run(context.Background(), pageJob("out(N).png", MimePNG))
	if KindFromError(err) != KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no engine initialization")
	}
}

func TestPipeline_EmptySelectionIsPrecondition(t *testing.T) {
	engine := newStubEngine()
	pipeline, _ := newTestPipeline(t, engine)

	job := pageJob("out(N).png", MimePNG)
	job.Transforms = []TransformSpec{{Kind: TransformGroupRotate, Target: Selector{Type: BlockGraphic}, Angle: 0.5}}
	_, err := pipeline.Run(context.Background(), job)
	if KindFromError(err) != KindPrecondition {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if engine.disposed != 1 {
		t.Fatalf("expected release after precondition failure")
	}
}
