package vector

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Snapshot layout: the index blob holds a small header followed by the
// live vectors in position order (little-endian float32); the id map is
// a JSON object {position: external_id}. Both files are written to a
// temp file and renamed so a reader never observes a half-written
// snapshot. Tombstoned entries are not persisted, so loading a snapshot
// always yields a compacted index.

const (
	snapshotMagic   = uint32(0x52564958) // "RVIX"
	snapshotVersion = uint32(1)

	// IndexFile and IDMapFile are the snapshot artifact names inside a
	// snapshot directory.
	IndexFile = "index.bin"
	IDMapFile = "idmap.json"
)

// WriteSnapshot persists the live index contents into dir, creating it
// if needed. Concurrent writers and readers are blocked for the duration
// of the in-memory copy only, not the disk write.
func (i *Index) WriteSnapshot(dir string) error {
	i.mu.RLock()
	entries := make([]Entry, 0, i.ids.Live())
	for pos, vec := range i.vectors {
		id, ok := i.ids.ID(pos)
		if !ok {
			continue
		}
		stored := make([]float32, len(vec))
		copy(stored, vec)
		entries = append(entries, Entry{ID: id, Vector: stored})
	}
	dim := i.dim
	i.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	var blob bytes.Buffer
	header := []uint32{snapshotMagic, snapshotVersion, uint32(dim), uint32(len(entries))}
	for _, h := range header {
		if err := binary.Write(&blob, binary.LittleEndian, h); err != nil {
			return fmt.Errorf("failed to encode snapshot header: %w", err)
		}
	}

	idmap := make(map[int]string, len(entries))
	for pos, e := range entries {
		idmap[pos] = e.ID
		for _, v := range e.Vector {
			if err := binary.Write(&blob, binary.LittleEndian, math.Float32bits(v)); err != nil {
				return fmt.Errorf("failed to encode snapshot vector: %w", err)
			}
		}
	}

	idmapJSON, err := json.Marshal(idmap)
	if err != nil {
		return fmt.Errorf("failed to marshal id map: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dir, IndexFile), blob.Bytes()); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, IDMapFile), idmapJSON)
}

// LoadSnapshot reads a snapshot from dir into a fresh index of the given
// dimension. A count mismatch between the blob and the id map, or any
// structural damage, fails closed with ErrSnapshotCorrupt: the caller is
// expected to rebuild from the record store instead of serving a
// partially loaded index.
func LoadSnapshot(dir string, dim int) (*Index, error) {
	blob, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read index snapshot: %w", err)
	}
	idmapJSON, err := os.ReadFile(filepath.Join(dir, IDMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read id map snapshot: %w", err)
	}

	r := bytes.NewReader(blob)
	var magic, version, blobDim, count uint32
	for _, dst := range []*uint32{&magic, &version, &blobDim, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrSnapshotCorrupt)
		}
	}
	if magic != snapshotMagic || version != snapshotVersion {
		return nil, fmt.Errorf("%w: bad magic or version", ErrSnapshotCorrupt)
	}
	if int(blobDim) != dim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, index configured for %d", ErrSnapshotCorrupt, blobDim, dim)
	}

	var idmap map[int]string
	if err := json.Unmarshal(idmapJSON, &idmap); err != nil {
		return nil, fmt.Errorf("%w: unreadable id map: %v", ErrSnapshotCorrupt, err)
	}

	// The blob and the id map are written together; disagreement means
	// one of them is stale or damaged.
	if len(idmap) != int(count) {
		return nil, fmt.Errorf("%w: index holds %d vectors, id map holds %d ids", ErrSnapshotCorrupt, count, len(idmap))
	}

	entries := make([]Entry, 0, count)
	for pos := 0; pos < int(count); pos++ {
		id, ok := idmap[pos]
		if !ok {
			return nil, fmt.Errorf("%w: id map missing position %d", ErrSnapshotCorrupt, pos)
		}
		vec := make([]float32, dim)
		for n := range vec {
			var bits uint32
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("%w: truncated vector at position %d", ErrSnapshotCorrupt, pos)
			}
			vec[n] = math.Float32frombits(bits)
		}
		entries = append(entries, Entry{ID: id, Vector: vec})
	}

	idx := New(dim)
	if err := idx.Rebuild(entries); err != nil {
		return nil, err
	}
	return idx, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers see either the old file or the new
// one in full.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s into place: %w", path, err)
	}
	return nil
}
