package storefs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-sceneexport/scene"
)

// Store provides filesystem-backed artifact storage. Keys are slash-separated
// paths relative to Root.
type Store struct {
	Root string
	// Exclusive refuses to replace an existing artifact and reports
	// scene.KindConflict instead.
	Exclusive bool
	// Metadata writes a <name>.meta.json sidecar next to each artifact.
	Metadata bool
	Now      func() time.Time
}

// NewStore creates a filesystem-backed artifact store.
func NewStore(root string) *Store {
	return &Store{Root: root, Now: time.Now}
}

// Put stores an artifact on disk. The payload is written to a temporary file
// and moved into place so readers never observe a partial artifact.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, meta scene.ArtifactMeta) (scene.ArtifactRef, error) {
	if err := s.check(key); err != nil {
		return scene.ArtifactRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return scene.ArtifactRef{}, err
	}

	pathOnDisk, err := s.resolvePath(key)
	if err != nil {
		return scene.ArtifactRef{}, err
	}

	dir := filepath.Dir(pathOnDisk)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return scene.ArtifactRef{}, ioError("create artifact directory", err)
	}

	tmp, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return scene.ArtifactRef{}, ioError("create temp artifact", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return scene.ArtifactRef{}, ioError("write artifact", err)
	}
	if err := tmp.Sync(); err != nil {
		return scene.ArtifactRef{}, ioError("sync artifact", err)
	}
	if err := tmp.Close(); err != nil {
		return scene.ArtifactRef{}, ioError("close artifact", err)
	}

	if s.Exclusive {
		if err := os.Link(tmp.Name(), pathOnDisk); err != nil {
			if os.IsExist(err) {
				return scene.ArtifactRef{}, scene.NewError(scene.KindConflict, fmt.Sprintf("artifact %q already exists", key), err)
			}
			return scene.ArtifactRef{}, ioError("link artifact", err)
		}
	} else if err := os.Rename(tmp.Name(), pathOnDisk); err != nil {
		return scene.ArtifactRef{}, ioError("move artifact", err)
	}

	meta.Size = size
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = s.now()
	}
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(pathOnDisk))
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(pathOnDisk)
	}

	if s.Metadata {
		if err := s.writeMeta(pathOnDisk, meta); err != nil {
			return scene.ArtifactRef{}, ioError("write artifact metadata", err)
		}
	}

	return scene.ArtifactRef{Key: key, Meta: meta}, nil
}

// Open reads an artifact from disk.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, scene.ArtifactMeta, error) {
	_ = ctx
	if err := s.check(key); err != nil {
		return nil, scene.ArtifactMeta{}, err
	}

	pathOnDisk, err := s.resolvePath(key)
	if err != nil {
		return nil, scene.ArtifactMeta{}, err
	}

	file, err := os.Open(pathOnDisk)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, scene.ArtifactMeta{}, scene.NewError(scene.KindNotFound, fmt.Sprintf("artifact %q not found", key), err)
		}
		return nil, scene.ArtifactMeta{}, ioError("open artifact", err)
	}

	meta := s.readMeta(pathOnDisk)
	if meta.ContentType == "" {
		meta.ContentType = mime.TypeByExtension(filepath.Ext(pathOnDisk))
	}
	if meta.Filename == "" {
		meta.Filename = filepath.Base(pathOnDisk)
	}
	if meta.Size == 0 {
		if info, err := file.Stat(); err == nil {
			meta.Size = info.Size()
			if meta.CreatedAt.IsZero() {
				meta.CreatedAt = info.ModTime()
			}
		}
	}

	return file, meta, nil
}

// List returns the entry names of dir, relative to Root, creating it when
// missing.
func (s *Store) List(ctx context.Context, dir string) ([]string, error) {
	_ = ctx
	if s == nil {
		return nil, scene.NewError(scene.KindInternal, "store is nil", nil)
	}
	if s.Root == "" {
		return nil, scene.NewError(scene.KindConfiguration, "store root is required", nil)
	}
	pathOnDisk, err := s.resolveDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(pathOnDisk, 0o755); err != nil {
		return nil, ioError("create output directory", err)
	}
	entries, err := os.ReadDir(pathOnDisk)
	if err != nil {
		return nil, ioError("list output directory", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Locate returns the absolute path of key.
func (s *Store) Locate(key string) (string, error) {
	if err := s.check(key); err != nil {
		return "", err
	}
	return s.resolvePath(key)
}

func (s *Store) check(key string) error {
	if s == nil {
		return scene.NewError(scene.KindInternal, "store is nil", nil)
	}
	if s.Root == "" {
		return scene.NewError(scene.KindConfiguration, "store root is required", nil)
	}
	if key == "" {
		return scene.NewError(scene.KindValidation, "artifact key is required", nil)
	}
	return nil
}

func (s *Store) resolvePath(key string) (string, error) {
	clean := path.Clean("/" + key)
	rel := strings.TrimPrefix(clean, "/")
	if rel == "" || rel == "." {
		return "", scene.NewError(scene.KindValidation, "invalid artifact key", nil)
	}
	return s.join(rel)
}

func (s *Store) resolveDir(dir string) (string, error) {
	rel := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(dir)), "/")
	return s.join(rel)
}

func (s *Store) join(rel string) (string, error) {
	root, err := filepath.Abs(s.Root)
	if err != nil {
		return "", scene.NewError(scene.KindConfiguration, "invalid store root", err)
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, root+string(os.PathSeparator)) && target != root {
		return "", scene.NewError(scene.KindValidation, "artifact key escapes root", nil)
	}
	return target, nil
}

type metaFile struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) writeMeta(pathOnDisk string, meta scene.ArtifactMeta) error {
	payload, err := json.Marshal(metaFile(meta))
	if err != nil {
		return err
	}
	dir := filepath.Dir(pathOnDisk)
	tmp, err := os.CreateTemp(dir, ".meta-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(payload); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), metaPath(pathOnDisk))
}

func (s *Store) readMeta(pathOnDisk string) scene.ArtifactMeta {
	data, err := os.ReadFile(metaPath(pathOnDisk))
	if err != nil {
		return scene.ArtifactMeta{}
	}
	var meta metaFile
	if err := json.Unmarshal(data, &meta); err != nil {
		return scene.ArtifactMeta{}
	}
	return scene.ArtifactMeta(meta)
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func metaPath(pathOnDisk string) string {
	return pathOnDisk + ".meta.json"
}

func ioError(msg string, err error) error {
	return scene.NewError(scene.KindInternal, msg, err)
}
