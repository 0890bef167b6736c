package trackerbun

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/goliatone/go-sceneexport/scene"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Tracker stores pipeline run history in a Bun-backed database.
type Tracker struct {
	DB          *bun.DB
	Now         func() time.Time
	IDGenerator func() string
}

// NewTracker creates a Bun-backed tracker.
func NewTracker(db *bun.DB) *Tracker {
	return &Tracker{DB: db, Now: time.Now, IDGenerator: uuid.NewString}
}

// OpenSQLite opens a SQLite database through the sqlite shim driver.
func OpenSQLite(dsn string) (*bun.DB, error) {
	if dsn == "" {
		return nil, scene.NewError(scene.KindConfiguration, "history database dsn is required", nil)
	}
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, scene.NewError(scene.KindConfiguration, "open history database", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// EnsureSchema creates the run table when missing.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	_, err := t.DB.NewCreateTable().Model((*runModel)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return dbError("create run table", err)
	}
	return nil
}

// Start creates a new run record.
func (t *Tracker) Start(ctx context.Context, record scene.RunRecord) (string, error) {
	if err := t.check(); err != nil {
		return "", err
	}
	if record.ID == "" {
		record.ID = t.nextID()
	}
	if record.State == "" {
		record.State = scene.RunRunning
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = t.now()
	}

	model, err := modelFromRecord(record)
	if err != nil {
		return "", err
	}
	if _, err := t.DB.NewInsert().Model(&model).Exec(ctx); err != nil {
		return "", dbError("insert run", err)
	}
	return record.ID, nil
}

// AddArtifact appends a persisted artifact to the run.
func (t *Tracker) AddArtifact(ctx context.Context, id string, ref scene.ArtifactRef) error {
	if err := t.check(); err != nil {
		return err
	}
	if id == "" {
		return scene.NewError(scene.KindValidation, "run ID is required", nil)
	}

	return t.DB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		model := new(runModel)
		if err := tx.NewSelect().Model(model).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return notFound(id)
			}
			return dbError("load run", err)
		}
		artifacts, err := decodeArtifacts(model.Artifacts)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(append(artifacts, artifactFromRef(ref)))
		if err != nil {
			return scene.NewError(scene.KindInternal, "encode artifacts", err)
		}
		_, err = tx.NewUpdate().Model((*runModel)(nil)).
			Set("artifacts = ?", payload).
			Where("id = ?", id).
			Exec(ctx)
		if err != nil {
			return dbError("update run artifacts", err)
		}
		return nil
	})
}

// Complete marks the run as completed.
func (t *Tracker) Complete(ctx context.Context, id string) error {
	if err := t.check(); err != nil {
		return err
	}
	if id == "" {
		return scene.NewError(scene.KindValidation, "run ID is required", nil)
	}

	res, err := t.DB.NewUpdate().Model((*runModel)(nil)).
		Set("state = ?", scene.RunCompleted).
		Set("completed_at = COALESCE(completed_at, ?)", t.now()).
		Where("id = ?", id).
		Exec(ctx)
	return affected(id, res, err)
}

// Fail marks the run as failed and records the error kind.
func (t *Tracker) Fail(ctx context.Context, id string, runErr error) error {
	if err := t.check(); err != nil {
		return err
	}
	if id == "" {
		return scene.NewError(scene.KindValidation, "run ID is required", nil)
	}

	query := t.DB.NewUpdate().Model((*runModel)(nil)).
		Set("state = ?", scene.RunFailed).
		Set("completed_at = COALESCE(completed_at, ?)", t.now()).
		Where("id = ?", id)
	if runErr != nil {
		query = query.
			Set("error_kind = ?", string(scene.KindFromError(runErr))).
			Set("error = ?", runErr.Error())
	}
	res, err := query.Exec(ctx)
	return affected(id, res, err)
}

// Status returns a record by ID.
func (t *Tracker) Status(ctx context.Context, id string) (scene.RunRecord, error) {
	if err := t.check(); err != nil {
		return scene.RunRecord{}, err
	}
	if id == "" {
		return scene.RunRecord{}, scene.NewError(scene.KindValidation, "run ID is required", nil)
	}

	model := new(runModel)
	err := t.DB.NewSelect().Model(model).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scene.RunRecord{}, notFound(id)
		}
		return scene.RunRecord{}, dbError("load run", err)
	}
	return model.toRecord()
}

// List returns records matching a filter, newest first.
func (t *Tracker) List(ctx context.Context, filter scene.RunFilter) ([]scene.RunRecord, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	models := make([]runModel, 0)
	query := t.DB.NewSelect().Model(&models)
	if filter.Job != "" {
		query = query.Where("job = ?", filter.Job)
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at <= ?", filter.Until)
	}
	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	if err := query.Scan(ctx); err != nil {
		return nil, dbError("list runs", err)
	}

	records := make([]scene.RunRecord, 0, len(models))
	for _, model := range models {
		record, err := model.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

type runModel struct {
	bun.BaseModel `bun:"table:scene_runs,alias:scene_runs"`

	ID          string    `bun:",pk"`
	Job         string    `bun:",notnull"`
	State       string    `bun:",notnull"`
	SessionID   string    `bun:"session_id"`
	Artifacts   []byte    `bun:"artifacts"`
	ErrorKind   string    `bun:"error_kind"`
	Error       string    `bun:"error"`
	CreatedAt   time.Time `bun:"created_at"`
	CompletedAt time.Time `bun:"completed_at,nullzero"`
}

type artifactRow struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
}

func artifactFromRef(ref scene.ArtifactRef) artifactRow {
	return artifactRow{
		Key:         ref.Key,
		ContentType: ref.Meta.ContentType,
		Size:        ref.Meta.Size,
		Filename:    ref.Meta.Filename,
		CreatedAt:   ref.Meta.CreatedAt,
	}
}

func (a artifactRow) toRef() scene.ArtifactRef {
	return scene.ArtifactRef{
		Key: a.Key,
		Meta: scene.ArtifactMeta{
			ContentType: a.ContentType,
			Size:        a.Size,
			Filename:    a.Filename,
			CreatedAt:   a.CreatedAt,
		},
	}
}

func decodeArtifacts(data []byte) ([]artifactRow, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []artifactRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, scene.NewError(scene.KindInternal, "decode artifacts", err)
	}
	return rows, nil
}

func modelFromRecord(record scene.RunRecord) (runModel, error) {
	rows := make([]artifactRow, 0, len(record.Artifacts))
	for _, ref := range record.Artifacts {
		rows = append(rows, artifactFromRef(ref))
	}
	artifacts, err := json.Marshal(rows)
	if err != nil {
		return runModel{}, scene.NewError(scene.KindInternal, "encode artifacts", err)
	}
	return runModel{
		ID:          record.ID,
		Job:         record.Job,
		State:       string(record.State),
		SessionID:   record.SessionID,
		Artifacts:   artifacts,
		ErrorKind:   string(record.ErrorKind),
		Error:       record.Error,
		CreatedAt:   record.CreatedAt,
		CompletedAt: record.CompletedAt,
	}, nil
}

func (m runModel) toRecord() (scene.RunRecord, error) {
	record := scene.RunRecord{
		ID:          m.ID,
		Job:         m.Job,
		State:       scene.RunState(m.State),
		SessionID:   m.SessionID,
		ErrorKind:   scene.ErrorKind(m.ErrorKind),
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
	rows, err := decodeArtifacts(m.Artifacts)
	if err != nil {
		return scene.RunRecord{}, err
	}
	for _, row := range rows {
		record.Artifacts = append(record.Artifacts, row.toRef())
	}
	return record, nil
}

func (t *Tracker) check() error {
	if t == nil || t.DB == nil {
		return scene.NewError(scene.KindConfiguration, "tracker database not configured", nil)
	}
	return nil
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) nextID() string {
	if t.IDGenerator != nil {
		return t.IDGenerator()
	}
	return uuid.NewString()
}

func affected(id string, res sql.Result, err error) error {
	if err != nil {
		return dbError("update run", err)
	}
	count, _ := res.RowsAffected()
	if count == 0 {
		return notFound(id)
	}
	return nil
}

func notFound(id string) error {
	return scene.NewError(scene.KindNotFound, fmt.Sprintf("run %q not found", id), nil)
}

func dbError(msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return scene.NewError(scene.KindInternal, msg, err)
}
