// Package fastexif extracts EXIF and related capture metadata from image
// and video files without decoding pixel or sample data. It sniffs the
// container format, locates the TIFF-structured metadata segment, and
// renders every tag it understands into a flat string mapping.
package fastexif

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Default thresholds for the file access strategy and the structural
// caps. All are overridable through Config.
const (
	// DefaultMapThreshold is the largest file mapped in full.
	DefaultMapThreshold = 16 << 20

	// DefaultSmallFileThreshold is the size below which plain reads beat
	// the fixed cost of mapping.
	DefaultSmallFileThreshold = 1 << 20

	// DefaultMaxMapSize is the largest mapping ever established.
	DefaultMaxMapSize = 256 << 20

	// DefaultMaxSegmentSize caps how much of a file is treated as the
	// metadata segment.
	DefaultMaxSegmentSize = 2 << 20

	// DefaultMaxMakerNoteSize caps a single maker-note block.
	DefaultMaxMakerNoteSize = 2 << 20
)

// Result holds extracted metadata as rendered tag name/value pairs.
type Result map[string]string

// ResultCache persists extraction results keyed by file path. Put is
// called after every successful uncached extraction; implementations
// decide validity and eviction on their own.
type ResultCache interface {
	// Get returns the cached result for path and whether it is still
	// valid for the file's current state.
	Get(path string) (Result, bool, error)

	// Put stores the result for path.
	Put(path string, res Result) error
}

// Config holds the extraction options. The zero value selects the
// documented defaults.
type Config struct {
	// MapThreshold is the largest file size mapped in full. Zero means
	// DefaultMapThreshold.
	MapThreshold int64

	// SmallFileThreshold is the size below which files are read with
	// plain positioned reads. Zero means DefaultSmallFileThreshold.
	SmallFileThreshold int64

	// MaxMapSize bounds any single mapping. Zero means DefaultMaxMapSize.
	MaxMapSize int64

	// MaxSegmentSize bounds the metadata segment. Zero means
	// DefaultMaxSegmentSize.
	MaxSegmentSize int64

	// MaxMakerNoteSize bounds a maker-note block. Zero means
	// DefaultMaxMakerNoteSize.
	MaxMakerNoteSize int64

	// ForceStrategy pins the file access strategy. StrategyAuto (the
	// zero value) picks by file size.
	ForceStrategy Strategy

	// Logger receives structured diagnostics. Nil discards them.
	Logger *slog.Logger

	// Warnf is called with recoverable decode problems: skipped tags,
	// bad sub-directories, out-of-bounds values. Nil routes warnings to
	// Logger at warn level.
	Warnf func(format string, args ...any)

	// Cache, when set, is consulted before extraction and updated after.
	Cache ResultCache
}

func (cfg Config) withDefaults() Config {
	if cfg.MapThreshold == 0 {
		cfg.MapThreshold = DefaultMapThreshold
	}
	if cfg.SmallFileThreshold == 0 {
		cfg.SmallFileThreshold = DefaultSmallFileThreshold
	}
	if cfg.MaxMapSize == 0 {
		cfg.MaxMapSize = DefaultMaxMapSize
	}
	if cfg.MaxSegmentSize == 0 {
		cfg.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if cfg.MaxMakerNoteSize == 0 {
		cfg.MaxMakerNoteSize = DefaultMaxMakerNoteSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Warnf == nil {
		logger := cfg.Logger
		cfg.Warnf = func(format string, args ...any) {
			logger.Warn("decode", "detail", fmt.Sprintf(format, args...))
		}
	}
	return cfg
}

// Engine extracts metadata. It is safe for concurrent use.
type Engine struct {
	cfg Config
}

// New returns an Engine with cfg's zero fields replaced by defaults.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Extract decodes metadata from an in-memory buffer.
func Extract(data []byte) (Result, error) {
	return New(Config{}).Extract(data)
}

// ExtractFile decodes metadata from the file at path.
func ExtractFile(path string) (Result, error) {
	return New(Config{}).ExtractFile(path)
}

// Extract decodes metadata from an in-memory buffer.
func (e *Engine) Extract(data []byte) (Result, error) {
	return e.extract(&bytesSource{data: data})
}

// ExtractFile decodes metadata from the file at path, choosing the file
// access strategy by size. With a Cache configured, a valid cached result
// is returned without touching the file contents.
func (e *Engine) ExtractFile(path string) (Result, error) {
	if e.cfg.Cache != nil {
		res, ok, err := e.cfg.Cache.Get(path)
		if err != nil {
			e.cfg.Logger.Warn("cache get failed", "path", path, "err", err)
		} else if ok {
			return res, nil
		}
	}

	src, err := openSource(path, &e.cfg)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	res, err := e.extract(src)
	if err == nil && e.cfg.Cache != nil {
		if perr := e.cfg.Cache.Put(path, res); perr != nil {
			e.cfg.Logger.Warn("cache put failed", "path", path, "err", perr)
		}
	}
	return res, err
}

// extract is the shared pipeline: sniff the format, locate the segment,
// decode it. Truncation mid-decode returns the partial result together
// with the error; any other failure returns no result.
func (e *Engine) extract(src Source) (Result, error) {
	size := src.Size()
	head, err := src.Range(0, min(size, vendorSniffLimit))
	if err != nil {
		return nil, err
	}
	f, err := Detect(head)
	if err != nil {
		return nil, err
	}

	out := Result{
		"FileType":          f.String(),
		"FileTypeExtension": f.Extension(),
		"MIMEType":          f.MIMEType(),
	}

	// Containers with no TIFF-structured segment get their basic tags
	// from a format-specific header read.
	switch f {
	case FormatGIF:
		return out, decodeGIF(src, out)
	case FormatBMP:
		return out, decodeBMP(src, out)
	case FormatAVI:
		return out, decodeAVI(src, out)
	case FormatMKV:
		return out, decodeMKV(src, out)
	}

	seg, ok, err := locateSegment(src, f, &e.cfg)
	if err != nil {
		return partialOrNil(out, err)
	}
	if !ok {
		return out, nil
	}
	if seg.length > e.cfg.MaxSegmentSize {
		seg.length = e.cfg.MaxSegmentSize
	}
	payload, err := src.Range(seg.offset, seg.length)
	if err != nil {
		return partialOrNil(out, err)
	}

	if err := decodeTIFFInto(payload, DetectMake(head), &e.cfg, out); err != nil {
		return partialOrNil(out, err)
	}
	return out, nil
}

// partialOrNil keeps the result alongside truncation errors so callers
// can use what was decoded before the data ran out.
func partialOrNil(out Result, err error) (Result, error) {
	var te *TruncatedDataError
	if errors.As(err, &te) {
		return out, err
	}
	return nil, err
}
