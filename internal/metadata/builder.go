// Package metadata builds the MPMDv2 vendor command block and splices it
// into sliced G-code. The block carries an SJPG thumbnail plus material and
// infill information in the key/value comment encoding the printer's
// display firmware parses.
package metadata

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mpmdmeta/internal/gcode"
	"mpmdmeta/internal/thumbnail"
)

// Firmware command codes and metadata keys of the MPMDv2 display subsystem.
// W221 opens a thumbnail, each W220 line carries one chunk of base16 image
// data, and W222 terminates the image.
const (
	CmdThumbnailBegin = "W221"
	CmdThumbnailChunk = "W220"
	CmdThumbnailEnd   = "W222"

	KeyFilamentType  = ";FilamentType:"
	KeyInfillDensity = ";InfillDensity:"
	KeyFilamentUsed  = ";FilamentUsed:"

	thumbnailBeginComment = "; thumbnail begin"
	thumbnailEndComment   = "; thumbnail end"
)

// Record holds the metadata fields to emit. Absent fields are omitted from
// the block, never emitted with placeholder values.
type Record struct {
	Material string              // emitted when non-empty
	Amount   decimal.NullDecimal // filament millimetres, emitted when valid
	Infill   int                 // percentage, emitted when non-negative
}

// Options configure thumbnail embedding. The zero value disables the
// thumbnail; out-of-range fields are replaced by firmware defaults.
type Options struct {
	ThumbnailPath  string
	Width          int
	Height         int
	Quality        int
	FragmentHeight int
	ChunkSize      int

	// Rescale resamples wrong-sized sources to Width x Height instead of
	// treating them as a format mismatch.
	Rescale bool
}

// Builder assembles the vendor command block for one G-code file.
type Builder struct {
	opts Options
	log  *zap.Logger
}

// NewBuilder returns a Builder with opts normalized to usable values. A nil
// logger disables logging.
func NewBuilder(opts Options, log *zap.Logger) *Builder {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Width < 1 {
		opts.Width = thumbnail.DefaultWidth
	}
	if opts.Height < 1 {
		opts.Height = thumbnail.DefaultHeight
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		if opts.Quality != 0 {
			log.Warn("thumbnail quality out of range, using default",
				zap.Int("quality", opts.Quality),
				zap.Int("default", thumbnail.DefaultQuality))
		}
		opts.Quality = thumbnail.DefaultQuality
	}
	if opts.FragmentHeight < 1 {
		if opts.FragmentHeight != 0 {
			log.Warn("thumbnail fragment height out of range, using default",
				zap.Int("fragment_height", opts.FragmentHeight),
				zap.Int("default", thumbnail.DefaultFragmentHeight))
		}
		opts.FragmentHeight = thumbnail.DefaultFragmentHeight
	}
	if opts.ChunkSize < 1 {
		if opts.ChunkSize != 0 {
			log.Warn("thumbnail chunk size out of range, using default",
				zap.Int("chunk_size", opts.ChunkSize),
				zap.Int("default", thumbnail.DefaultChunkSize))
		}
		opts.ChunkSize = thumbnail.DefaultChunkSize
	}
	return &Builder{opts: opts, log: log}
}

// Apply returns the line sequence with one vendor command block inserted at
// the slicer header anchor: thumbnail chunk lines first, then metadata
// lines. Every failure mode degrades by omitting the affected piece; when
// no anchor exists, or nothing remains to emit, the input is returned
// unchanged. Apply never modifies the input slice.
//
// Apply is not idempotent: applying it to its own output inserts a second
// block, which the firmware tolerates (it stops at the first block).
func (b *Builder) Apply(lines []string, rec Record) []string {
	anchor, ok := gcode.FindAnchor(lines)
	if !ok {
		b.log.Warn("no insertion anchor found, leaving G-code unmodified")
		return lines
	}

	block := b.thumbnailLines()
	block = append(block, b.metadataLines(lines, rec)...)
	if len(block) == 0 {
		return lines
	}

	b.log.Debug("inserting metadata block",
		zap.Int("anchor", anchor),
		zap.Int("lines", len(block)))
	return gcode.InsertBlock(lines, anchor, block)
}

// thumbnailLines encodes the configured thumbnail into W22x command lines.
// Missing, unreadable or wrong-sized images yield no lines.
func (b *Builder) thumbnailLines() []string {
	if b.opts.ThumbnailPath == "" {
		return nil
	}

	img, err := thumbnail.Load(b.opts.ThumbnailPath)
	if err != nil {
		b.log.Warn("skipping thumbnail",
			zap.String("path", b.opts.ThumbnailPath),
			zap.Error(err))
		return nil
	}

	bounds := img.Bounds()
	if bounds.Dx() != b.opts.Width || bounds.Dy() != b.opts.Height {
		if !b.opts.Rescale {
			b.log.Warn("skipping thumbnail with unexpected dimensions",
				zap.String("path", b.opts.ThumbnailPath),
				zap.String("got", fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy())),
				zap.String("want", fmt.Sprintf("%dx%d", b.opts.Width, b.opts.Height)))
			return nil
		}
		img = thumbnail.Fit(img, b.opts.Width, b.opts.Height)
	}

	sjpg, err := thumbnail.EncodeSJPG(img, b.opts.Quality, b.opts.FragmentHeight)
	if err != nil {
		b.log.Warn("skipping thumbnail",
			zap.String("path", b.opts.ThumbnailPath),
			zap.Error(err))
		return nil
	}

	chunks := thumbnail.Chunk(thumbnail.EncodeBase16(sjpg), b.opts.ChunkSize)

	lines := make([]string, 0, len(chunks)+5)
	lines = append(lines, thumbnailBeginComment, CmdThumbnailBegin)
	for _, chunk := range chunks {
		lines = append(lines, CmdThumbnailChunk+" "+chunk)
	}
	lines = append(lines, CmdThumbnailEnd, thumbnailEndComment, "")
	return lines
}

// metadataLines emits one key/value line per present field, in the fixed
// order FilamentType, InfillDensity, FilamentUsed. When no amount override
// is set, the amount is derived from the slicer's ";Filament used:" line.
func (b *Builder) metadataLines(lines []string, rec Record) []string {
	var out []string
	if rec.Material != "" {
		out = append(out, KeyFilamentType+rec.Material)
	}
	if rec.Infill >= 0 {
		out = append(out, fmt.Sprintf("%s%d", KeyInfillDensity, rec.Infill))
	}

	amount := rec.Amount
	if !amount.Valid {
		if derived, ok := gcode.FilamentUsed(lines); ok {
			amount = decimal.NewNullDecimal(derived)
		}
	}
	if amount.Valid {
		out = append(out, KeyFilamentUsed+amount.Decimal.StringFixed(2))
	}
	return out
}
