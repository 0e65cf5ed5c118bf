package fastexif

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Source supplies bounded byte ranges to the decoder. All implementations
// are observationally identical: the same input decodes to the same result
// regardless of how the bytes are backed.
type Source interface {
	// Range returns length bytes starting at offset. Ranges extending past
	// the end of the input return a *TruncatedDataError. For mapped sources
	// the returned slice aliases the mapping and must not be retained
	// after Close.
	Range(offset, length int64) ([]byte, error)

	// Size returns the total size of the input in bytes.
	Size() int64

	// Close releases the mapping or file handle.
	Close() error
}

// Strategy selects how bytes are sourced from disk.
type Strategy int

const (
	// StrategyAuto picks a strategy per file from the size policy.
	StrategyAuto Strategy = iota
	// StrategyFullMap memory-maps the whole file; every read is a
	// zero-copy slice of the mapping.
	StrategyFullMap
	// StrategyBoundedSeek issues an explicit positioned read per request,
	// bounding peak memory to the single largest request.
	StrategyBoundedSeek
	// StrategyHybrid maps a leading fraction of the file and falls back to
	// positioned reads for ranges beyond the mapped prefix.
	StrategyHybrid
)

// chooseStrategy implements the per-file size policy. Tiny files are not
// worth a mapping, huge files must not be mapped whole, and everything in
// between maps either fully or by prefix.
func (cfg *Config) chooseStrategy(size int64) Strategy {
	if cfg.ForceStrategy != StrategyAuto {
		return cfg.ForceStrategy
	}
	switch {
	case size < cfg.SmallFileThreshold || size > cfg.MaxMapSize:
		return StrategyBoundedSeek
	case size <= cfg.MapThreshold:
		return StrategyFullMap
	default:
		return StrategyHybrid
	}
}

// openSource opens path with the strategy selected by cfg. Stat and open
// failures propagate verbatim.
func openSource(path string, cfg *Config) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		f.Close()
		return &bytesSource{}, nil
	}

	switch cfg.chooseStrategy(size) {
	case StrategyFullMap:
		data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("memory-mapping %s: %w", path, err)
		}
		// The mapping outlives the descriptor.
		f.Close()
		return &mappedSource{data: data}, nil

	case StrategyHybrid:
		prefix := size / 4
		if prefix > cfg.MapThreshold {
			prefix = cfg.MapThreshold
		}
		if prefix < minHybridPrefix {
			prefix = minHybridPrefix
		}
		if prefix > size {
			prefix = size
		}
		data, err := unix.Mmap(int(f.Fd()), 0, int(prefix), unix.PROT_READ, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("memory-mapping prefix of %s: %w", path, err)
		}
		return &hybridSource{prefix: data, f: f, size: size}, nil

	default:
		return &seekSource{f: f, size: size}, nil
	}
}

// minHybridPrefix keeps the mapped prefix large enough to cover the file
// header and any near-start metadata segment.
const minHybridPrefix = 64 * 1024

func checkRange(offset, length, size int64) error {
	if offset < 0 || length < 0 || offset+length > size {
		return &TruncatedDataError{Offset: offset, Length: length, Size: size}
	}
	return nil
}

// bytesSource serves an in-memory buffer.
type bytesSource struct {
	data []byte
}

func (s *bytesSource) Range(offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length, int64(len(s.data))); err != nil {
		return nil, err
	}
	return s.data[offset : offset+length], nil
}

func (s *bytesSource) Size() int64 { return int64(len(s.data)) }

func (s *bytesSource) Close() error { return nil }

// mappedSource serves reads from a full read-only mapping of the file.
// Mapping a file that another process concurrently truncates or rewrites
// is an accepted hazard; no locking is attempted.
type mappedSource struct {
	data []byte
}

func (s *mappedSource) Range(offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length, int64(len(s.data))); err != nil {
		return nil, err
	}
	return s.data[offset : offset+length], nil
}

func (s *mappedSource) Size() int64 { return int64(len(s.data)) }

func (s *mappedSource) Close() error {
	data := s.data
	s.data = nil
	if data == nil {
		return nil
	}
	return unix.Munmap(data)
}

// seekSource serves each request with one positioned read, allocating only
// the requested range.
type seekSource struct {
	f    *os.File
	size int64
}

func (s *seekSource) Range(offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length, s.size); err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	p := make([]byte, length)
	if _, err := s.f.ReadAt(p, offset); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *seekSource) Size() int64 { return s.size }

func (s *seekSource) Close() error { return s.f.Close() }

// hybridSource maps a leading prefix of the file on the assumption that
// metadata lives near the start, and falls back to positioned reads for
// ranges beyond the prefix.
type hybridSource struct {
	prefix []byte
	f      *os.File
	size   int64
}

func (s *hybridSource) Range(offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length, s.size); err != nil {
		return nil, err
	}
	if offset+length <= int64(len(s.prefix)) {
		return s.prefix[offset : offset+length], nil
	}
	if length == 0 {
		return nil, nil
	}
	p := make([]byte, length)
	if _, err := s.f.ReadAt(p, offset); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *hybridSource) Size() int64 { return s.size }

func (s *hybridSource) Close() error {
	prefix := s.prefix
	s.prefix = nil
	var merr error
	if prefix != nil {
		merr = unix.Munmap(prefix)
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	return merr
}
