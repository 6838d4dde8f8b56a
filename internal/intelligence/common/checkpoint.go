package common

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/turtacn/gnn-opf/pkg/errors"
)

// checkpointMagic prefixes every checkpoint file.
var checkpointMagic = []byte("GNNOPFCK")

// CheckpointVersion is the on-disk layout version written by SaveCheckpoint.
const CheckpointVersion = 1

// Checkpoint is a named snapshot of model parameters.
type Checkpoint struct {
	// Kind identifies the architecture, e.g. "gnn" or "baseline".
	Kind string
	// Meta carries free-form architecture settings (hidden_dim, readout, ...).
	Meta map[string]string
	// CreatedAt is set by SaveCheckpoint.
	CreatedAt time.Time
	// State maps parameter name to value.
	State map[string]*mat.Dense
}

type tensorRecord struct {
	Name string
	Data []byte
}

type checkpointFile struct {
	Version   int
	Kind      string
	Meta      map[string]string
	CreatedAt time.Time
	Tensors   []tensorRecord
}

// EncodeCheckpoint writes ck to w.  Tensors are written in name order so
// the encoding of a given state is stable.
func EncodeCheckpoint(w io.Writer, ck *Checkpoint) error {
	if ck == nil || ck.Kind == "" {
		return errors.New(errors.CodeInvalidParam, "checkpoint kind is required")
	}
	names := make([]string, 0, len(ck.State))
	for name := range ck.State {
		names = append(names, name)
	}
	sort.Strings(names)

	f := checkpointFile{
		Version:   CheckpointVersion,
		Kind:      ck.Kind,
		Meta:      ck.Meta,
		CreatedAt: ck.CreatedAt,
		Tensors:   make([]tensorRecord, 0, len(names)),
	}
	for _, name := range names {
		data, err := ck.State[name].MarshalBinary()
		if err != nil {
			return errors.Wrap(err, errors.CodeCheckpointError, "encode tensor "+name)
		}
		f.Tensors = append(f.Tensors, tensorRecord{Name: name, Data: data})
	}

	if _, err := w.Write(checkpointMagic); err != nil {
		return errors.Wrap(err, errors.CodeCheckpointError, "write checkpoint header")
	}
	if err := gob.NewEncoder(w).Encode(&f); err != nil {
		return errors.Wrap(err, errors.CodeCheckpointError, "encode checkpoint")
	}
	return nil
}

// DecodeCheckpoint reads a checkpoint written by EncodeCheckpoint.
func DecodeCheckpoint(r io.Reader) (*Checkpoint, error) {
	header := make([]byte, len(checkpointMagic))
	if _, err := io.ReadFull(r, header); err != nil || !bytes.Equal(header, checkpointMagic) {
		return nil, errors.New(errors.CodeCheckpointError, "not a checkpoint file")
	}
	var f checkpointFile
	if err := gob.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, errors.CodeCheckpointError, "checkpoint is corrupt")
	}
	if f.Version != CheckpointVersion {
		return nil, errors.Newf(errors.CodeCheckpointError, "unsupported checkpoint version %d", f.Version)
	}
	ck := &Checkpoint{
		Kind:      f.Kind,
		Meta:      f.Meta,
		CreatedAt: f.CreatedAt,
		State:     make(map[string]*mat.Dense, len(f.Tensors)),
	}
	for _, t := range f.Tensors {
		var m mat.Dense
		if err := m.UnmarshalBinary(t.Data); err != nil {
			return nil, errors.Wrap(err, errors.CodeCheckpointError, "decode tensor "+t.Name)
		}
		ck.State[t.Name] = &m
	}
	return ck, nil
}

// SaveCheckpoint writes ck to path through a temporary file in the same
// directory, so a failed write never leaves a truncated checkpoint behind.
// Missing parent directories are created.
func SaveCheckpoint(path string, ck *Checkpoint) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.CodeCheckpointError, "create checkpoint directory")
	}
	if ck != nil && ck.CreatedAt.IsZero() {
		ck.CreatedAt = time.Now().UTC()
	}
	tmp, err := os.CreateTemp(dir, ".ckpt-*")
	if err != nil {
		return errors.Wrap(err, errors.CodeCheckpointError, "create checkpoint file")
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := EncodeCheckpoint(bw, ck); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, errors.CodeCheckpointError, "write checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.CodeCheckpointError, "close checkpoint")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, errors.CodeCheckpointError, "move checkpoint into place")
	}
	return nil
}

// LoadCheckpoint reads path and checks that it holds a checkpoint of the
// given kind.  An empty kind accepts any.
func LoadCheckpoint(path, kind string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.CodeCheckpointError, "checkpoint %s does not exist", path)
		}
		return nil, errors.Wrap(err, errors.CodeCheckpointError, "open checkpoint")
	}
	defer f.Close()

	ck, err := DecodeCheckpoint(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "load checkpoint "+path)
	}
	if kind != "" && ck.Kind != kind {
		return nil, errors.Newf(errors.CodeCheckpointError, "checkpoint %s holds a %q model, want %q", path, ck.Kind, kind)
	}
	return ck, nil
}
