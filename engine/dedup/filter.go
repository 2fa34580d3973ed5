// Package dedup maintains the set of content identifiers the crawler has
// already claimed. The set is approximate: a bloom filter may falsely report
// an unseen CID as seen (the object is skipped, and a later announcement
// re-surfaces it), but within a session it never forgets a CID it was given.
package dedup

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	snapshotMagic   = uint32(0x1bf17e01)
	snapshotVersion = uint8(1)

	// Each stage added after the first doubles capacity and tightens the
	// false-positive rate, keeping the compound rate bounded as the set
	// grows without rebuilding existing stages.
	growthFactor   = 2
	tighteningRate = 0.5

	// DefaultCapacity is the expected CID count of the first stage.
	DefaultCapacity = 100000
	// DefaultFPRate is the target false-positive rate of the first stage.
	DefaultFPRate = 0.001
)

// stage is one fixed-capacity bloom filter in the scalable chain.
type stage struct {
	bloom    *bloom.BloomFilter
	capacity uint64
	count    uint64
	fpRate   float64
}

// Filter is a growable approximate set of CIDs. All methods are safe for
// concurrent use; Contains followed by Add from two workers can race, so
// claim CIDs with TestAndAdd.
type Filter struct {
	mu     sync.Mutex
	stages []*stage
}

// New creates an empty filter with the given first-stage parameters.
// Non-positive arguments fall back to the defaults.
func New(capacity uint64, fpRate float64) *Filter {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = DefaultFPRate
	}
	return &Filter{stages: []*stage{newStage(capacity, fpRate)}}
}

func newStage(capacity uint64, fpRate float64) *stage {
	return &stage{
		bloom:    bloom.NewWithEstimates(uint(capacity), fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Contains reports whether cid has (approximately) been added.
func (f *Filter) Contains(cid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contains(cid)
}

func (f *Filter) contains(cid string) bool {
	for _, s := range f.stages {
		if s.bloom.TestString(cid) {
			return true
		}
	}
	return false
}

// Add records cid as seen.
func (f *Filter) Add(cid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.add(cid)
}

func (f *Filter) add(cid string) {
	s := f.stages[len(f.stages)-1]
	if s.count >= s.capacity {
		s = newStage(s.capacity*growthFactor, s.fpRate*tighteningRate)
		f.stages = append(f.stages, s)
	}
	s.bloom.AddString(cid)
	s.count++
}

// TestAndAdd atomically claims cid: it returns true if cid was already
// present, and records it otherwise. Two workers calling this with the same
// CID cannot both see false.
func (f *Filter) TestAndAdd(cid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contains(cid) {
		return true
	}
	f.add(cid)
	return false
}

// Count returns the number of additions across all stages.
func (f *Filter) Count() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n uint64
	for _, s := range f.stages {
		n += s.count
	}
	return n
}

// Snapshot writes the filter in a stable binary format that Restore reads
// back with an identical membership truth table.
func (f *Filter) Snapshot(w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	hdr := []any{snapshotMagic, snapshotVersion, uint32(len(f.stages))}
	for _, v := range hdr {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return fmt.Errorf("dedup: write snapshot header: %w", err)
		}
	}
	for _, s := range f.stages {
		if err := binary.Write(w, binary.BigEndian, s.capacity); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, s.count); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, s.fpRate); err != nil {
			return err
		}
		if _, err := s.bloom.WriteTo(w); err != nil {
			return fmt.Errorf("dedup: write bloom stage: %w", err)
		}
	}
	return nil
}

// Restore reads a snapshot produced by Snapshot.
func Restore(r io.Reader) (*Filter, error) {
	var (
		magic   uint32
		version uint8
		nStages uint32
	)
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, fmt.Errorf("dedup: read snapshot header: %w", err)
	}
	if magic != snapshotMagic {
		return nil, errors.New("dedup: not a filter snapshot")
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("dedup: unsupported snapshot version %d", version)
	}
	if err := binary.Read(r, binary.BigEndian, &nStages); err != nil {
		return nil, err
	}
	if nStages == 0 || nStages > 64 {
		return nil, fmt.Errorf("dedup: implausible stage count %d", nStages)
	}

	f := &Filter{}
	for i := uint32(0); i < nStages; i++ {
		s := &stage{bloom: &bloom.BloomFilter{}}
		if err := binary.Read(r, binary.BigEndian, &s.capacity); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &s.count); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &s.fpRate); err != nil {
			return nil, err
		}
		if _, err := s.bloom.ReadFrom(r); err != nil {
			return nil, fmt.Errorf("dedup: read bloom stage %d: %w", i, err)
		}
		f.stages = append(f.stages, s)
	}
	return f, nil
}

// Load restores a filter from path, or returns a fresh one with the given
// parameters when no snapshot exists.
func Load(path string, capacity uint64, fpRate float64) (*Filter, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(capacity, fpRate), nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup: open snapshot: %w", err)
	}
	defer file.Close()
	return Restore(file)
}

// Save snapshots the filter to path, creating parent directories as needed.
// The write goes through a temp file and rename so a crash mid-write leaves
// the previous snapshot intact.
func (f *Filter) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dedup: create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".bloom-*")
	if err != nil {
		return fmt.Errorf("dedup: create snapshot temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.Snapshot(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
