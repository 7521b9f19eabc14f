package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"
)

// Archiver copies the published census store into an archive backend after a
// successful ingestion run. Archival is best-effort with respect to the local
// store: it runs strictly after the store has been published, so a failed
// upload never affects committed state.
type Archiver struct {
	backend ObjectStorage
	prefix  string
	now     func() time.Time
}

// NewArchiver creates an archiver writing under the given key prefix.
func NewArchiver(backend ObjectStorage, prefix string) *Archiver {
	return &Archiver{
		backend: backend,
		prefix:  prefix,
		now:     time.Now,
	}
}

// ArchiveStore uploads the store file at storePath and returns the object
// path it was archived under. Object keys embed a UTC timestamp so
// successive runs never overwrite each other.
func (a *Archiver) ArchiveStore(ctx context.Context, storePath string) (string, error) {
	objectPath := path.Join(a.prefix,
		fmt.Sprintf("%s-%s", a.now().UTC().Format("20060102T150405Z"), filepath.Base(storePath)))

	if err := a.backend.Upload(ctx, storePath, objectPath); err != nil {
		return "", err
	}
	return objectPath, nil
}

// ListArchives returns all archived store copies, oldest first by key (keys
// embed the timestamp, so lexical order is chronological).
func (a *Archiver) ListArchives(ctx context.Context) ([]string, error) {
	return a.backend.ListObjects(ctx, a.prefix)
}

// Restore downloads an archived store copy to localPath.
func (a *Archiver) Restore(ctx context.Context, objectPath, localPath string) error {
	return a.backend.Download(ctx, objectPath, localPath)
}
