// Package checkpoint persists sim.State to zstd-compressed files so a
// federation save can be restored in a later process.
//
// File layout: one JSON header line followed by the gob-encoded Checkpoint,
// all inside a single zstd stream.
package checkpoint

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/code-lab-org/sipg-sub003/sim"
)

// Version is the file format version written by Write.
const Version = 1

// Header identifies a checkpoint without decoding the state.
type Header struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	Federate  string    `json:"federate"`
	Label     string    `json:"label"`
	Year      int       `json:"year"`
	Iteration int       `json:"iteration"`
	SavedAt   time.Time `json:"saved_at"`
}

// Checkpoint is a labeled simulation state.
type Checkpoint struct {
	Header Header
	State  sim.State
}

// Path returns the conventional file path for a federate's labeled save.
func Path(dir, federate, label string) string {
	clean := strings.NewReplacer("/", "_", string(filepath.Separator), "_")
	return filepath.Join(dir, clean.Replace(federate)+"-"+clean.Replace(label)+".ckpt.zst")
}

// Write stores cp at path, creating parent directories. The file is written
// to a temporary name and renamed so readers never see a partial checkpoint.
func Write(path string, cp Checkpoint) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	cp.Header.Version = Version
	cp.Header.Year, cp.Header.Iteration = cp.State.Clock.Year, cp.State.Clock.Iteration

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(cp.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&cp); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read loads a checkpoint written by Write.
func Read(path string) (Checkpoint, error) {
	var cp Checkpoint
	err := open(path, func(br *bufio.Reader) error {
		if _, err := br.ReadBytes('\n'); err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if err := gob.NewDecoder(br).Decode(&cp); err != nil {
			return fmt.Errorf("gob decode: %w", err)
		}
		return nil
	})
	if err != nil {
		return cp, err
	}
	if cp.Header.Version != Version {
		return cp, fmt.Errorf("checkpoint %s: unsupported version %d", path, cp.Header.Version)
	}
	return cp, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	err := open(path, func(br *bufio.Reader) error {
		line, err := br.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		return json.Unmarshal(line, &h)
	})
	return h, err
}

func open(path string, fn func(*bufio.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := fn(bufio.NewReaderSize(dec, 64*1024)); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return nil
}

// ErrNotFound is returned by Latest when dir holds no checkpoint for the label.
var ErrNotFound = errors.New("checkpoint not found")

// Latest returns the path of the federate's checkpoint for label in dir.
func Latest(dir, federate, label string) (string, error) {
	p := Path(dir, federate, label)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return "", err
	}
	return p, nil
}
