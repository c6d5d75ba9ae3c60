// Package store implements the hybrid memory/disk tensor store: named
// float64 tensors either fully resident in memory or paged to a single
// backing Pebble container, with idempotent creation, alias-safe deletion,
// and a two-part checkpoint/restore cycle (container copy + gob metadata
// blob for resident entries).
//
// A Store exclusively owns its container directory for its lifetime and is
// not safe for concurrent use; the pipeline is single-threaded by design.
package store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/cockroachdb/pebble"

	"github.com/Sumatoshi-tech/dhpolar/pkg/tensor"
	"github.com/Sumatoshi-tech/dhpolar/pkg/units"
)

// Container key layout. Manifests catalog paged datasets; row blocks live
// under the dataset's physical id. '0' is '/'+1, so [prefix+"/", prefix+"0")
// brackets exactly the keys below one prefix.
const (
	manifestPrefix = "m/"
	manifestEnd    = "m0"
	blockPrefix    = "b/"
)

// Store errors.
var (
	// ErrUsage reports ambiguous or invalid store arguments.
	ErrUsage = errors.New("invalid store usage")

	// ErrNotFound reports a missing store key.
	ErrNotFound = errors.New("store key not found")

	// ErrStorage reports a backing container I/O failure.
	ErrStorage = errors.New("storage failure")
)

// Residency tags how an entry's tensor is held.
type Residency uint8

const (
	// ResidencyResident marks an entry held fully in process memory.
	ResidencyResident Residency = iota + 1

	// ResidencyPaged marks an entry backed by a container dataset.
	ResidencyPaged
)

// String returns the residency name for listings and logs.
func (r Residency) String() string {
	if r == ResidencyPaged {
		return "paged"
	}

	return "resident"
}

// entry is the tagged variant behind each key: exactly one of res or ds is
// set, matching kind.
type entry struct {
	kind Residency
	res  *tensor.Dense
	ds   *Dataset
}

func (e entry) shape() []int {
	if e.kind == ResidencyPaged {
		return e.ds.Shape()
	}

	return e.res.Shape()
}

// Stats counts container traffic since the store was opened.
type Stats struct {
	BlocksWritten int64
	BlocksRead    int64
	BytesWritten  int64
	BytesRead     int64
}

// Config holds store construction options.
type Config struct {
	// Path is the container directory. Empty means a private temporary
	// directory removed on Close.
	Path string

	// Compression selects the row-block encoding. Defaults to LZ4.
	Compression Compression
}

// Store maps keys to resident or paged tensors over one backing container.
type Store struct {
	db      *pebble.DB
	dir     string
	private bool
	closed  bool
	comp    Compression
	entries map[string]entry
	stats   Stats
}

// manifestRecord is the durable catalog entry for one paged dataset.
type manifestRecord struct {
	Name     string
	Shape    []int
	Physical string
}

// residentRecord is the serialized form of one resident tensor in the
// checkpoint metadata blob.
type residentRecord struct {
	Shape []int
	Data  []float64
}

// metadataBlob is the checkpoint metadata payload: every purely resident
// key/value pair.
type metadataBlob struct {
	Entries map[string]residentRecord
}

// New opens a store over the configured container directory, creating a
// private temporary one when no path is given.
func New(cfg Config) (*Store, error) {
	dir := cfg.Path
	private := false

	if dir == "" {
		tmp, err := os.MkdirTemp("", "dhpolar-store-*")
		if err != nil {
			return nil, fmt.Errorf("%w: create container dir: %w", ErrStorage, err)
		}

		dir = tmp
		private = true
	}

	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		if private {
			os.RemoveAll(dir)
		}

		return nil, fmt.Errorf("%w: open container at %s: %w", ErrStorage, dir, err)
	}

	s := &Store{
		db:      db,
		dir:     dir,
		private: private,
		comp:    cfg.Compression,
		entries: make(map[string]entry),
	}

	loadErr := s.loadManifests()
	if loadErr != nil {
		db.Close()

		if private {
			os.RemoveAll(dir)
		}

		return nil, loadErr
	}

	return s, nil
}

// loadManifests re-associates paged entries from the container catalog.
// A freshly created container has none; a reopened or restored one has one
// manifest per paged key.
func (s *Store) loadManifests() error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(manifestPrefix),
		UpperBound: []byte(manifestEnd),
	})
	if err != nil {
		return fmt.Errorf("%w: scan manifests: %w", ErrStorage, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec manifestRecord

		decErr := gob.NewDecoder(bytes.NewReader(iter.Value())).Decode(&rec)
		if decErr != nil {
			return fmt.Errorf("%w: decode manifest %q: %w", ErrStorage, iter.Key(), decErr)
		}

		s.entries[rec.Name] = entry{kind: ResidencyPaged, ds: s.newDataset(rec)}
	}

	return nil
}

// CreateOpts describes the tensor to create. Exactly one of Data or Shape
// must determine the extent.
type CreateOpts struct {
	// Data is an existing tensor to store. The store takes ownership of it
	// for resident creates.
	Data *tensor.Dense

	// Shape allocates a zero-filled tensor of this shape.
	Shape []int

	// Paged allocates the tensor on the backing container instead of in
	// memory.
	Paged bool
}

// Create makes key hold a tensor described by opts. An existing key with a
// matching shape reuses its storage in place (zeroed, then filled from Data
// when given) and keeps its residency; a mismatched shape deletes and
// recreates. Ambiguous extents are a usage error.
func (s *Store) Create(key string, opts CreateOpts) error {
	shape, err := resolveShape(key, opts)
	if err != nil {
		return err
	}

	if e, ok := s.entries[key]; ok {
		if slices.Equal(e.shape(), shape) {
			return s.reuse(key, e, opts)
		}

		delErr := s.Delete(key)
		if delErr != nil {
			return delErr
		}
	}

	if opts.Paged {
		return s.createPaged(key, shape, opts.Data)
	}

	if opts.Data != nil {
		s.entries[key] = entry{kind: ResidencyResident, res: opts.Data}

		return nil
	}

	s.entries[key] = entry{kind: ResidencyResident, res: tensor.New(shape...)}

	return nil
}

func resolveShape(key string, opts CreateOpts) ([]int, error) {
	switch {
	case opts.Data != nil && opts.Shape != nil:
		return nil, fmt.Errorf("%w: create %q: both data and shape given", ErrUsage, key)
	case opts.Data != nil:
		return opts.Data.Shape(), nil
	case opts.Shape != nil:
		return slices.Clone(opts.Shape), nil
	default:
		return nil, fmt.Errorf("%w: create %q: neither data nor shape given", ErrUsage, key)
	}
}

// reuse zero-fills an existing same-shape entry in place, then fills it
// from Data when given. No new physical storage is allocated and the
// entry's residency is preserved.
func (s *Store) reuse(key string, e entry, opts CreateOpts) error {
	if e.kind == ResidencyResident {
		e.res.Zero()

		if opts.Data != nil {
			e.res.CopyFrom(opts.Data)
		}

		return nil
	}

	zeroErr := e.ds.zeroFill()
	if zeroErr != nil {
		return fmt.Errorf("zero paged %q: %w", key, zeroErr)
	}

	if opts.Data != nil {
		return e.ds.WriteRows(0, opts.Data)
	}

	return nil
}

func (s *Store) createPaged(key string, shape []int, data *tensor.Dense) error {
	rec := manifestRecord{Name: key, Shape: shape, Physical: key}

	putErr := s.putManifest(rec)
	if putErr != nil {
		return putErr
	}

	ds := s.newDataset(rec)
	s.entries[key] = entry{kind: ResidencyPaged, ds: ds}

	if data != nil {
		return ds.WriteRows(0, data)
	}

	return nil
}

func (s *Store) putManifest(rec manifestRecord) error {
	buf := new(bytes.Buffer)

	encErr := gob.NewEncoder(buf).Encode(rec)
	if encErr != nil {
		return fmt.Errorf("%w: encode manifest %q: %w", ErrStorage, rec.Name, encErr)
	}

	setErr := s.db.Set([]byte(manifestPrefix+rec.Name), buf.Bytes(), pebble.NoSync)
	if setErr != nil {
		return fmt.Errorf("%w: write manifest %q: %w", ErrStorage, rec.Name, setErr)
	}

	return nil
}

// Alias makes newKey a second entry sharing existingKey's physical dataset.
// Deleting either key afterwards leaves the other readable; the physical
// dataset is removed only with its last referent.
func (s *Store) Alias(newKey, existingKey string) error {
	if _, ok := s.entries[newKey]; ok {
		return fmt.Errorf("%w: alias target %q already exists", ErrUsage, newKey)
	}

	e, ok := s.entries[existingKey]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, existingKey)
	}

	if e.kind != ResidencyPaged {
		return fmt.Errorf("%w: alias source %q is resident", ErrUsage, existingKey)
	}

	rec := manifestRecord{Name: newKey, Shape: e.ds.Shape(), Physical: e.ds.physical}

	putErr := s.putManifest(rec)
	if putErr != nil {
		return putErr
	}

	s.entries[newKey] = entry{kind: ResidencyPaged, ds: s.newDataset(rec)}

	return nil
}

// Delete removes key from the store. Paged entries also drop their physical
// dataset from the container unless another live key aliases it; a dataset
// already physically gone is tolerated silently.
func (s *Store) Delete(key string) error {
	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	delete(s.entries, key)

	if e.kind != ResidencyPaged {
		return nil
	}

	delErr := s.db.Delete([]byte(manifestPrefix+key), pebble.NoSync)
	if delErr != nil {
		return fmt.Errorf("%w: delete manifest %q: %w", ErrStorage, key, delErr)
	}

	for _, other := range s.entries {
		if other.kind == ResidencyPaged && other.ds.physical == e.ds.physical {
			// Another live key still references the physical dataset.
			return nil
		}
	}

	return e.ds.dropBlocks()
}

// Load materializes the named tensor fully in memory regardless of
// residency: a defensive copy for resident entries, a full container read
// for paged ones. Store residency is unchanged.
func (s *Store) Load(key string) (*tensor.Dense, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if e.kind == ResidencyResident {
		return e.res.Clone(), nil
	}

	return e.ds.ReadRows(0, e.ds.Rows())
}

// Ref returns the resident tensor itself for in-place accumulation. Paged
// entries have no resident array and are a usage error.
func (s *Store) Ref(key string) (*tensor.Dense, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if e.kind != ResidencyResident {
		return nil, fmt.Errorf("%w: %q is paged; use Dataset for row access", ErrUsage, key)
	}

	return e.res, nil
}

// Dataset returns the paged handle for row-range access. Resident entries
// are a usage error.
func (s *Store) Dataset(key string) (*Dataset, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	if e.kind != ResidencyPaged {
		return nil, fmt.Errorf("%w: %q is resident; use Ref", ErrUsage, key)
	}

	return e.ds, nil
}

// Has reports whether key exists.
func (s *Store) Has(key string) bool {
	_, ok := s.entries[key]

	return ok
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// ShapeOf returns the named tensor's shape.
func (s *Store) ShapeOf(key string) ([]int, error) {
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	return e.shape(), nil
}

// ResidencyOf returns the named entry's residency tag.
func (s *Store) ResidencyOf(key string) (Residency, error) {
	e, ok := s.entries[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
	}

	return e.kind, nil
}

// SizeOf returns the named tensor's element count.
func (s *Store) SizeOf(key string) (int, error) {
	shape, err := s.ShapeOf(key)
	if err != nil {
		return 0, err
	}

	size := 1
	for _, n := range shape {
		size *= n
	}

	return size, nil
}

// Stats returns container traffic counters.
func (s *Store) Stats() Stats {
	return s.stats
}

// Dir returns the container directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Close closes the container, removing it when it is a private temporary
// directory. Closing twice is a no-op.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	closeErr := s.db.Close()

	if s.private {
		rmErr := os.RemoveAll(s.dir)
		if closeErr == nil && rmErr != nil {
			return fmt.Errorf("%w: remove container dir: %w", ErrStorage, rmErr)
		}
	}

	if closeErr != nil {
		return fmt.Errorf("%w: close container: %w", ErrStorage, closeErr)
	}

	return nil
}

func (s *Store) countBytes(written bool, n int) {
	if written {
		s.stats.BlocksWritten++
		s.stats.BytesWritten += int64(n) * units.F64Bytes
	} else {
		s.stats.BlocksRead++
		s.stats.BytesRead += int64(n) * units.F64Bytes
	}
}
