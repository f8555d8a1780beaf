package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/uhyunpark/dexsync/pkg/exchange"
)

type NopWAL struct{}

func NewNopWAL() *NopWAL          { return &NopWAL{} }
func (w *NopWAL) Append(_ string) {}

// FileWAL appends one dispatched signal per line.
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f}, nil
}
func (w *FileWAL) Append(line string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintln(w.f, line)
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadWAL returns the journaled signals at path in order. A missing file is
// an empty journal; undecodable lines are skipped.
func ReadWAL(path string) ([]exchange.Signal, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sigs []exchange.Signal
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		sig, err := exchange.DecodeSignal(sc.Text())
		if err != nil {
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs, sc.Err()
}

// CompactWAL rewrites the journal at path to hold only the updaters that are
// still running at its end, and returns them.
func CompactWAL(path string) ([]exchange.Signal, error) {
	sigs, err := ReadWAL(path)
	if err != nil {
		return nil, err
	}
	active := exchange.ActiveUpdaters(sigs)

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	for _, sig := range active {
		line, err := exchange.EncodeSignal(sig)
		if err != nil {
			f.Close()
			return nil, err
		}
		fmt.Fprintln(w, line)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, err
	}
	return active, nil
}

var _ exchange.WAL = (*NopWAL)(nil)
var _ exchange.WAL = (*FileWAL)(nil)
