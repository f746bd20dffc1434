package registry

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/anirudhraja/protobridge/schema"
)

// snapshotVersion is bumped whenever the schema types change shape.
const snapshotVersion = 1

// ErrSnapshotVersion is returned when reading a snapshot written by an
// incompatible version.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// snapshot is the on-disk form of a registry, its files sorted by name.
type snapshot struct {
	Version int                 `cbor:"1,keyasint"`
	Files   []*schema.ProtoFile `cbor:"2,keyasint"`
}

var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: the same registry always snapshots to
	// the same bytes.
	snapshotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("registry: CBOR encoder initialization failed: " + err.Error())
	}
	snapshotDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("registry: CBOR decoder initialization failed: " + err.Error())
	}
}

// WriteSnapshot writes every registered file to w as zstd-compressed CBOR.
// Loading the snapshot skips .proto parsing and import resolution.
func (r *Registry) WriteSnapshot(w io.Writer) error {
	r.mu.RLock()
	snap := snapshot{Version: snapshotVersion}
	for _, name := range sortedKeys(r.repo.ProtoFiles) {
		snap.Files = append(snap.Files, r.repo.ProtoFiles[name])
	}
	data, err := snapshotEncMode.Marshal(snap)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	return zw.Close()
}

// ReadSnapshot registers the files of a snapshot written by WriteSnapshot.
// Files already registered under the same name are skipped.
func (r *Registry) ReadSnapshot(rd io.Reader) error {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompressing snapshot: %w", err)
	}
	var snap snapshot
	if err := snapshotDecMode.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, snap.Version)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(snap.Files)
}
