package scene

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultNameAttempts bounds re-naming after exclusive-write conflicts.
const DefaultNameAttempts = 3

// Locator resolves stored keys to filesystem paths for diagnostics.
type Locator interface {
	Locate(key string) (string, error)
}

// PersistedArtifact describes one written export.
type PersistedArtifact struct {
	Ref       ArtifactRef
	Name      OutputName
	MimeType  MimeType
	Requested MimeType
	Target    BlockID
	Location  string
}

// RunResult summarizes a pipeline run.
type RunResult struct {
	ID        string
	Job       string
	SessionID string
	Artifacts []PersistedArtifact
}

// Pipeline sequences acquire, build, transform, export, name, persist and
// release for one job. The session is released on every exit path.
type Pipeline struct {
	Sessions     *SessionManager
	Config       SessionConfig
	Store        ArtifactStore
	Namer        *OutputNamer
	Tracker      RunTracker
	Logger       Logger
	OutputDir    string
	NameAttempts int
	Now          func() time.Time
	IDGenerator  func() string
}

// NewPipeline creates a pipeline with default collaborators.
func NewPipeline(sessions *SessionManager, cfg SessionConfig, store ArtifactStore) *Pipeline {
	return &Pipeline{
		Sessions:     sessions,
		Config:       cfg,
		Store:        store,
		Logger:       NopLogger{},
		NameAttempts: DefaultNameAttempts,
		Now:          time.Now,
		IDGenerator:  uuid.NewString,
	}
}

// Run executes job inside a scoped session.
func (p *Pipeline) Run(ctx context.Context, job Job) (RunResult, error) {
	if p == nil {
		return RunResult{}, NewError(KindInternal, "pipeline is nil", nil)
	}
	if p.Sessions == nil {
		return RunResult{}, NewError(KindConfiguration, "session manager is required", nil)
	}
	if p.Store == nil {
		return RunResult{}, NewError(KindConfiguration, "artifact store is required", nil)
	}
	if err := p.Config.Validate(); err != nil {
		return RunResult{}, err
	}
	if err := job.Validate(); err != nil {
		return RunResult{}, err
	}
	logger := loggerOrNop(p.Logger)

	result := RunResult{ID: p.nextID(), Job: job.Name}
	if p.Tracker != nil {
		id, err := p.Tracker.Start(ctx, RunRecord{
			ID:        result.ID,
			Job:       job.Name,
			State:     RunRunning,
			CreatedAt: p.now(),
		})
		if err != nil {
			logger.Warn("run tracker start failed", "run", result.ID, "error", err)
		} else if id != "" {
			result.ID = id
		}
	}
	logger.Debug("pipeline run started", "run", result.ID, "job", job.Name)

	err := p.Sessions.WithSession(ctx, p.Config, func(session *Session) error {
		result.SessionID = session.ID()
		return p.execute(ctx, session.Engine(), job, &result)
	})
	if err != nil {
		trackCtx := context.WithoutCancel(ctx)
		p.track(trackCtx, result.ID, func(tracker RunTracker) error { return tracker.Fail(trackCtx, result.ID, err) })
		return result, err
	}
	p.track(ctx, result.ID, func(tracker RunTracker) error { return tracker.Complete(ctx, result.ID) })
	logger.Debug("pipeline run completed", "run", result.ID, "artifacts", len(result.Artifacts))
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, engine Engine, job Job, result *RunResult) error {
	logger := loggerOrNop(p.Logger)

	built, err := NewBuilder(engine, logger).Build(ctx, job.Scene)
	if err != nil {
		return err
	}

	policy := NewTransformPolicy(engine, logger)
	for i, spec := range job.Transforms {
		if err := ctx.Err(); err != nil {
			return err
		}
		elements, err := built.Resolve(spec.Target)
		if err != nil {
			return fmt.Errorf("transform %d: %w", i, err)
		}
		req := TransformRequest{
			Kind:     spec.Kind,
			Elements: elements,
			Angle:    spec.Radians(),
			Factor:   spec.Factor,
			Bounds:   spec.Bounds(),
		}
		if err := policy.Apply(req); err != nil {
			return fmt.Errorf("transform %d (%s %s): %w", i, spec.Kind, spec.Target, err)
		}
	}

	strategy := NewExportStrategy(engine, logger)
	dir := job.OutputDir
	if strings.TrimSpace(dir) == "" {
		dir = p.OutputDir
	}
	for i, spec := range job.Exports {
		targets, err := built.Resolve(spec.Target)
		if err != nil {
			return fmt.Errorf("export %d: %w", i, err)
		}
		if len(targets) == 0 {
			return NewError(KindPrecondition, fmt.Sprintf("export %d: selector %s matched no blocks", i, spec.Target), nil)
		}
		if !spec.Target.EachPage {
			targets = targets[:1]
		}
		for _, target := range targets {
			if err := ctx.Err(); err != nil {
				return err
			}
			persisted, err := p.exportOne(ctx, strategy, dir, target, spec)
			if err != nil {
				return fmt.Errorf("export %d: %w", i, err)
			}
			result.Artifacts = append(result.Artifacts, persisted)
			p.track(ctx, result.ID, func(tracker RunTracker) error {
				return tracker.AddArtifact(ctx, result.ID, persisted.Ref)
			})
		}
	}
	return nil
}

func (p *Pipeline) exportOne(ctx context.Context, strategy *ExportStrategy, dir string, target BlockID, spec ExportSpec) (PersistedArtifact, error) {
	requested := NormalizeMime(spec.Mime)
	opts := spec.Options
	opts.MimeType = requested
	artifact, err := strategy.Export(ctx, ExportRequest{
		Target:    target,
		Preferred: requested,
		Fallback:  NormalizeMime(spec.Fallback),
		Options:   opts,
	})
	if err != nil {
		return PersistedArtifact{}, err
	}
	if artifact.Len() == 0 {
		return PersistedArtifact{}, NewError(KindEngine, fmt.Sprintf("engine returned an empty %s payload", artifact.MimeType()), nil)
	}

	persisted, err := p.persist(ctx, dir, TemplateForMime(spec.Template, artifact.MimeType()), artifact)
	if err != nil {
		return PersistedArtifact{}, err
	}
	persisted.Requested = requested
	persisted.Target = target
	return persisted, nil
}

func (p *Pipeline) persist(ctx context.Context, dir, template string, artifact Artifact) (PersistedArtifact, error) {
	logger := loggerOrNop(p.Logger)
	namer := p.namer()

	attempts := p.NameAttempts
	if attempts <= 0 {
		attempts = DefaultNameAttempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		name, err := namer.NextName(ctx, dir, template)
		if err != nil {
			return PersistedArtifact{}, err
		}
		key := path.Join(strings.TrimSpace(dir), name.BaseName)
		ref, err := p.Store.Put(ctx, key, bytes.NewReader(artifact.Bytes()), ArtifactMeta{
			ContentType: string(artifact.MimeType()),
			Filename:    name.BaseName,
			CreatedAt:   p.now(),
		})
		if err != nil {
			if KindFromError(err) == KindConflict {
				lastErr = err
				logger.Debug("artifact name taken, recomputing", "key", key, "attempt", attempt)
				continue
			}
			return PersistedArtifact{}, err
		}

		location := ref.Key
		if locator, ok := p.Store.(Locator); ok {
			if resolved, err := locator.Locate(ref.Key); err == nil {
				location = resolved
			}
		}
		logger.Info("artifact written",
			"path", location,
			"mime", string(artifact.MimeType()),
			"bytes", artifact.Len(),
		)
		return PersistedArtifact{
			Ref:      ref,
			Name:     name,
			MimeType: artifact.MimeType(),
			Location: location,
		}, nil
	}
	return PersistedArtifact{}, NewError(KindConflict, fmt.Sprintf("no free artifact name after %d attempts", attempts), lastErr)
}

func (p *Pipeline) namer() *OutputNamer {
	if p.Namer != nil {
		return p.Namer
	}
	if lister, ok := p.Store.(DirLister); ok {
		return NewOutputNamer(lister)
	}
	return NewOutputNamer(OSDirLister{})
}

func (p *Pipeline) track(ctx context.Context, id string, fn func(RunTracker) error) {
	if p.Tracker == nil || id == "" {
		return
	}
	if err := fn(p.Tracker); err != nil {
		loggerOrNop(p.Logger).Warn("run tracker update failed", "run", id, "error", err)
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Pipeline) nextID() string {
	if p.IDGenerator == nil {
		return uuid.NewString()
	}
	return p.IDGenerator()
}
