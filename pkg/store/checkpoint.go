package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/Sumatoshi-tech/dhpolar/pkg/persist"
	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
)

// Checkpoint persists the full store as two artifacts: a gob metadata blob
// of every resident entry at metadataPath, and a consistent container
// snapshot at datasetPath. datasetPath must not already exist. Open dataset
// handles stay valid afterwards; the live store is unchanged.
func (s *Store) Checkpoint(datasetPath, metadataPath string) error {
	blob := metadataBlob{Entries: make(map[string]residentRecord, len(s.entries))}

	for name, e := range s.entries {
		if e.kind != ResidencyResident {
			continue
		}

		blob.Entries[name] = residentRecord{
			Shape: e.res.Shape(),
			Data:  e.res.Data(),
		}
	}

	saveErr := persist.SaveFile(metadataPath, persist.NewGobCodec(), blob)
	if saveErr != nil {
		return fmt.Errorf("%w: checkpoint metadata at %s: %w", ErrStorage, metadataPath, saveErr)
	}

	flushErr := s.db.Flush()
	if flushErr != nil {
		return fmt.Errorf("%w: flush before checkpoint: %w", ErrStorage, flushErr)
	}

	chkErr := s.db.Checkpoint(datasetPath)
	if chkErr != nil {
		return fmt.Errorf("%w: checkpoint container at %s: %w", ErrStorage, datasetPath, chkErr)
	}

	return nil
}

// Restore builds a fresh store from a checkpoint pair: the container
// snapshot is copied into a new private directory and its manifests
// re-associated, then the resident entries from the metadata blob are
// merged in last.
func Restore(datasetPath, metadataPath string, comp Compression) (*Store, error) {
	s, err := New(Config{Compression: comp})
	if err != nil {
		return nil, err
	}

	swapErr := s.swapContainer(datasetPath)
	if swapErr != nil {
		os.RemoveAll(s.dir)

		return nil, swapErr
	}

	blobErr := s.mergeResidents(metadataPath)
	if blobErr != nil {
		s.Close()

		return nil, blobErr
	}

	return s, nil
}

// swapContainer discards the store's fresh container and replaces it with a
// copy of the checkpoint snapshot, then reopens and recatalogs.
func (s *Store) swapContainer(datasetPath string) error {
	closeErr := s.db.Close()
	if closeErr != nil {
		return fmt.Errorf("%w: close fresh container: %w", ErrStorage, closeErr)
	}

	rmErr := os.RemoveAll(s.dir)
	if rmErr != nil {
		return fmt.Errorf("%w: discard fresh container: %w", ErrStorage, rmErr)
	}

	copyErr := copyDir(datasetPath, s.dir)
	if copyErr != nil {
		return fmt.Errorf("%w: copy snapshot %s: %w", ErrStorage, datasetPath, copyErr)
	}

	db, openErr := pebble.Open(s.dir, &pebble.Options{})
	if openErr != nil {
		return fmt.Errorf("%w: reopen restored container: %w", ErrStorage, openErr)
	}

	s.db = db
	s.entries = make(map[string]entry)

	return s.loadManifests()
}

// mergeResidents loads the metadata blob and overlays its entries. Residents
// win over any same-named paged entry, matching checkpoint write order.
func (s *Store) mergeResidents(metadataPath string) error {
	var blob metadataBlob

	loadErr := persist.LoadFile(metadataPath, persist.NewGobCodec(), &blob)
	if loadErr != nil {
		return fmt.Errorf("%w: read checkpoint metadata at %s: %w", ErrStorage, metadataPath, loadErr)
	}

	for name, rec := range blob.Entries {
		s.entries[name] = entry{
			kind: ResidencyResident,
			res:  tensor.NewFromData(rec.Data, rec.Shape...),
		}
	}

	return nil
}

// copyDir recursively copies a directory tree, preserving file modes.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}

		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}

		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)

	return err
}
