// Package layout projects revision bundles onto the object store.
//
// A revision lives under {kind}/{name}/{revision}/: one object per bundle
// entry, the bundle itself as {name}_rev{revision}.zip and a metadata.json
// record. Deleted artifacts move to {kind}/zzARCHIVE/{name}/.
package layout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lgulliver/revvault/internal/bundle"
	"github.com/lgulliver/revvault/internal/metrics"
	"github.com/lgulliver/revvault/internal/storage"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/lgulliver/revvault/pkg/utils"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const (
	// ArchiveFolder holds deleted artifacts under each kind
	ArchiveFolder = "zzARCHIVE"
	// MarkerName is the zero-byte object signalling deletion
	MarkerName = "DELETED"
	// MetadataName is the revision metadata record
	MetadataName = "metadata.json"

	defaultConcurrency = 16
)

var (
	// ErrPartialUpload means at least one object of a revision failed to store
	ErrPartialUpload = errors.New("partial upload")
	// ErrPartialArchive means at least one object failed to relocate
	ErrPartialArchive = errors.New("partial archive")
)

// PartialError reports which paths failed during a fan-out. Writes or moves
// that succeeded are not rolled back.
type PartialError struct {
	Kind   error
	Paths  []string
	Causes error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%v: %d object(s) failed [%s]: %v", e.Kind, len(e.Paths), strings.Join(e.Paths, ", "), e.Causes)
}

// Is matches the sentinel the error was raised for
func (e *PartialError) Is(target error) bool {
	return target == e.Kind
}

func (e *PartialError) Unwrap() error {
	return e.Causes
}

// Manager is the only writer of the revision tree
type Manager struct {
	store       storage.BlobStorage
	concurrency int
}

// NewManager creates a manager writing through store with at most
// concurrency in-flight operations per call
func NewManager(store storage.BlobStorage, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	return &Manager{store: store, concurrency: concurrency}
}

// RevisionPrefix returns {kind}/{name}/{revision}
func RevisionPrefix(kind types.Kind, name, revision string) string {
	return path.Join(string(kind), name, revision)
}

// ArtifactPrefix returns {kind}/{name}/ including the trailing slash
func ArtifactPrefix(kind types.Kind, name string) string {
	return string(kind) + "/" + name + "/"
}

// ArchivePrefix returns {kind}/zzARCHIVE/{name}/ including the trailing slash
func ArchivePrefix(kind types.Kind, name string) string {
	return string(kind) + "/" + ArchiveFolder + "/" + name + "/"
}

// SnapshotName returns the file name of the stored bundle
func SnapshotName(name, revision string) string {
	return fmt.Sprintf("%s_rev%s.zip", name, revision)
}

// ContentTypes maps file extensions to content types; unknown extensions are
// stored as application/octet-stream
var ContentTypes = map[string]string{
	".xml":  "application/xml",
	".json": "application/json",
	".js":   "application/javascript",
	".txt":  "text/plain",
}

// ContentType infers the content type of an entry from its extension
func ContentType(entryPath string) string {
	if ct, ok := ContentTypes[strings.ToLower(path.Ext(entryPath))]; ok {
		return ct
	}
	return "application/octet-stream"
}

type upload struct {
	path        string
	data        []byte
	contentType string
}

// UnpackAndStore writes every file entry of buf below the revision prefix and
// buf itself as the revision snapshot. The archive is fully decoded before
// the first write.
func (m *Manager) UnpackAndStore(ctx context.Context, kind types.Kind, name, revision string, buf []byte) error {
	startTime := time.Now()

	entries, err := bundle.ReadEntries(buf)
	if err != nil {
		return err
	}

	prefix := RevisionPrefix(kind, name, revision)
	uploads := make([]upload, 0, len(entries)+1)
	uploads = append(uploads, upload{
		path:        path.Join(prefix, SnapshotName(name, revision)),
		data:        buf,
		contentType: "application/zip",
	})
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		uploads = append(uploads, upload{
			path:        path.Join(prefix, e.Path),
			data:        e.Data,
			contentType: ContentType(e.Path),
		})
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	p := pool.New().WithErrors().WithMaxGoroutines(m.concurrency)
	for _, u := range uploads {
		p.Go(func() error {
			err := m.store.Store(ctx, u.path, bytes.NewReader(u.data), u.contentType)
			metrics.ObserveStoreWrite(err)
			if err != nil {
				log.Error().Err(err).Str("path", u.path).Msg("failed to upload bundle entry")
				mu.Lock()
				failed = append(failed, u.path)
				mu.Unlock()
				return fmt.Errorf("%s: %w", u.path, err)
			}
			log.Debug().Str("path", u.path).Str("content_type", u.contentType).Msg("uploaded bundle entry")
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		sort.Strings(failed)
		return &PartialError{Kind: ErrPartialUpload, Paths: failed, Causes: err}
	}

	log.Info().
		Str("kind", kind.String()).
		Str("name", name).
		Str("revision", revision).
		Int("objects", len(uploads)).
		Str("size", utils.FormatBytes(int64(len(buf)))).
		Str("sha256", utils.ComputeSHA256(buf)).
		Dur("duration", time.Since(startTime)).
		Msg("revision stored")
	return nil
}

// WriteMetadata overwrites the revision's metadata.json. When deleted is set,
// or the record already carries the deleted state, the DELETED marker is
// written first so a deleted record never exists without its marker.
func (m *Manager) WriteMetadata(ctx context.Context, kind types.Kind, name, revision string, record *types.RevisionMetadata, deleted bool) error {
	if record == nil {
		return errors.New("metadata record is required")
	}
	rec := *record
	if deleted && rec.State == "" {
		rec.State = types.StateDeleted
	}
	deleted = deleted || rec.IsDeleted()

	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	prefix := RevisionPrefix(kind, name, revision)
	if deleted {
		if err := m.writeMarker(ctx, path.Join(prefix, MarkerName)); err != nil {
			return err
		}
	}

	metaPath := path.Join(prefix, MetadataName)
	err = m.store.Store(ctx, metaPath, bytes.NewReader(data), "application/json")
	metrics.ObserveStoreWrite(err)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", metaPath, err)
	}

	log.Info().Str("path", metaPath).Bool("deleted", deleted).Msg("metadata saved")
	return nil
}

// ReadMetadata loads a revision's metadata record
func (m *Manager) ReadMetadata(ctx context.Context, kind types.Kind, name, revision string) (*types.RevisionMetadata, error) {
	metaPath := path.Join(RevisionPrefix(kind, name, revision), MetadataName)
	rc, err := m.store.Retrieve(ctx, metaPath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var record types.RevisionMetadata
	if err := json.NewDecoder(rc).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", metaPath, err)
	}
	return &record, nil
}

// Archive moves every object under {kind}/{name}/ to {kind}/zzARCHIVE/{name}/
// and then writes the DELETED marker at the archive root. Failed moves do not
// stop the others or the marker; they are reported as a PartialError.
func (m *Manager) Archive(ctx context.Context, kind types.Kind, name string) error {
	startTime := time.Now()
	prefix := ArtifactPrefix(kind, name)
	archivePrefix := ArchivePrefix(kind, name)

	objects, err := m.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	p := pool.New().WithErrors().WithMaxGoroutines(m.concurrency)
	for _, src := range objects {
		dst := archivePrefix + strings.TrimPrefix(src, prefix)
		p.Go(func() error {
			err := m.store.Move(ctx, src, dst)
			metrics.ObserveRelocation(err)
			if err != nil {
				log.Error().Err(err).Str("src", src).Str("dst", dst).Msg("failed to archive object")
				mu.Lock()
				failed = append(failed, src)
				mu.Unlock()
				return fmt.Errorf("%s: %w", src, err)
			}
			log.Debug().Str("src", src).Str("dst", dst).Msg("archived object")
			return nil
		})
	}
	moveErr := p.Wait()

	if err := m.writeMarker(ctx, archivePrefix+MarkerName); err != nil {
		return errors.Join(err, partial(ErrPartialArchive, failed, moveErr))
	}
	if moveErr != nil {
		return partial(ErrPartialArchive, failed, moveErr)
	}

	log.Info().
		Str("kind", kind.String()).
		Str("name", name).
		Int("objects", len(objects)).
		Dur("duration", time.Since(startTime)).
		Msg("artifact archived")
	return nil
}

// ListRevisions returns the live revisions of an artifact, oldest first
func (m *Manager) ListRevisions(ctx context.Context, kind types.Kind, name string) ([]string, error) {
	prefix := ArtifactPrefix(kind, name)
	objects, err := m.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	seen := make(map[string]struct{})
	var revisions []string
	for _, obj := range objects {
		rest := strings.TrimPrefix(obj, prefix)
		rev, _, ok := strings.Cut(rest, "/")
		if !ok || rev == "" {
			continue
		}
		if _, dup := seen[rev]; dup {
			continue
		}
		seen[rev] = struct{}{}
		revisions = append(revisions, rev)
	}
	return utils.SortRevisions(revisions), nil
}

func (m *Manager) writeMarker(ctx context.Context, markerPath string) error {
	err := m.store.Store(ctx, markerPath, bytes.NewReader(nil), "application/octet-stream")
	metrics.ObserveStoreWrite(err)
	if err != nil {
		return fmt.Errorf("failed to write marker %s: %w", markerPath, err)
	}
	return nil
}

// partial returns nil when nothing failed
func partial(kind error, failed []string, causes error) error {
	if causes == nil {
		return nil
	}
	sort.Strings(failed)
	return &PartialError{Kind: kind, Paths: failed, Causes: causes}
}
