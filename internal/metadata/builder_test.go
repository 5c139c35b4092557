package metadata

import (
	"bytes"
	"encoding/hex"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mpmdmeta/internal/thumbnail"
)

// slicedGcode mimics the head of a Cura-sliced file. The anchor is the
// ";Generated with" line at index 3.
func slicedGcode() []string {
	return []string{
		";FLAVOR:Marlin",
		";TIME:3960",
		";Filament used: 1.5m",
		";Generated with Cura_SteamEngine 5.2.1",
		"M140 S60",
		"G28",
	}
}

func writeTestPNG(t *testing.T, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(x), uint8(y), 200, 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(t.TempDir(), "thumb.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, line := range lines {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func TestApplyMetadataOnly(t *testing.T) {
	rec := Record{
		Material: "PLA",
		Amount:   decimal.NewNullDecimal(decimal.RequireFromString("42.5")),
		Infill:   20,
	}

	in := slicedGcode()
	out := NewBuilder(Options{}, nil).Apply(in, rec)

	require.Len(t, out, len(in)+3)
	assert.Equal(t, in[:4], out[:4], "lines before the anchor are untouched")
	assert.Equal(t, []string{
		";FilamentType:PLA",
		";InfillDensity:20",
		";FilamentUsed:42.50",
	}, out[4:7])
	assert.Equal(t, in[4:], out[7:], "lines after the anchor are untouched")

	assert.Zero(t, countPrefix(out, CmdThumbnailChunk), "no image chunks without a thumbnail")
}

func TestApplyOmitsAbsentFields(t *testing.T) {
	in := []string{";Generated with Cura_SteamEngine 5.2.1", "G28"}

	out := NewBuilder(Options{}, nil).Apply(in, Record{Material: "PETG", Infill: -1})

	require.Len(t, out, len(in)+1)
	assert.Equal(t, ";FilamentType:PETG", out[1])
	assert.Zero(t, countPrefix(out, KeyInfillDensity))
	assert.Zero(t, countPrefix(out, KeyFilamentUsed))
}

func TestApplyNothingToEmit(t *testing.T) {
	in := []string{";Generated with Cura_SteamEngine 5.2.1", "G28"}
	out := NewBuilder(Options{}, nil).Apply(in, Record{Infill: -1})
	assert.Equal(t, in, out)
}

func TestApplyDerivesFilamentUsed(t *testing.T) {
	in := slicedGcode()
	out := NewBuilder(Options{}, nil).Apply(in, Record{Infill: -1})

	require.Len(t, out, len(in)+1)
	assert.Contains(t, out, ";FilamentUsed:1500.00")
	assert.Contains(t, out, ";Filament used: 1.5m", "slicer line must be preserved")
}

func TestApplyNoAnchor(t *testing.T) {
	in := []string{";FLAVOR:Marlin", "; comments only", ""}

	out := NewBuilder(Options{ThumbnailPath: "thumb.png"}, nil).
		Apply(in, Record{Material: "PLA", Infill: 20})

	assert.Equal(t, in, out, "no partial insertion without an anchor")
}

func TestApplyMissingThumbnail(t *testing.T) {
	opts := Options{ThumbnailPath: filepath.Join(t.TempDir(), "missing.png")}

	in := slicedGcode()
	out := NewBuilder(opts, nil).Apply(in, Record{Material: "PLA", Infill: -1})

	assert.Zero(t, countPrefix(out, "W22"), "no thumbnail command lines")
	assert.Contains(t, out, ";FilamentType:PLA", "metadata emission is unaffected")
}

func TestApplyThumbnail(t *testing.T) {
	opts := Options{ThumbnailPath: writeTestPNG(t, thumbnail.DefaultWidth, thumbnail.DefaultHeight)}

	in := slicedGcode()
	out := NewBuilder(opts, nil).Apply(in, Record{Material: "PLA", Infill: 20})

	require.Greater(t, len(out), len(in))
	assert.Equal(t, "; thumbnail begin", out[4])
	assert.Equal(t, CmdThumbnailBegin, out[5])

	var payload strings.Builder
	i := 6
	for ; strings.HasPrefix(out[i], CmdThumbnailChunk+" "); i++ {
		chunk := strings.TrimPrefix(out[i], CmdThumbnailChunk+" ")
		assert.LessOrEqual(t, len(chunk), thumbnail.DefaultChunkSize)
		payload.WriteString(chunk)
	}
	require.Greater(t, i, 6, "at least one chunk line")
	assert.Equal(t, CmdThumbnailEnd, out[i])
	assert.Equal(t, "; thumbnail end", out[i+1])
	assert.Equal(t, "", out[i+2])

	raw, err := hex.DecodeString(payload.String())
	require.NoError(t, err, "chunks must concatenate to valid base16")
	assert.True(t, bytes.HasPrefix(raw, []byte("_SJPG__")))

	assert.Equal(t, ";FilamentType:PLA", out[i+3])
	assert.Equal(t, ";InfillDensity:20", out[i+4])
	assert.Equal(t, ";FilamentUsed:1500.00", out[i+5])
	assert.Equal(t, in[4:], out[len(out)-2:], "tail of the file is untouched")
}

func TestApplyWrongSizeThumbnail(t *testing.T) {
	path := writeTestPNG(t, 64, 64)
	in := slicedGcode()

	out := NewBuilder(Options{ThumbnailPath: path}, nil).Apply(in, Record{Infill: -1})
	assert.Zero(t, countPrefix(out, "W22"), "wrong-sized image is skipped")

	rescaled := NewBuilder(Options{ThumbnailPath: path, Rescale: true}, nil).
		Apply(in, Record{Infill: -1})
	assert.Equal(t, 1, countPrefix(rescaled, CmdThumbnailBegin))
	assert.Equal(t, 1, countPrefix(rescaled, CmdThumbnailEnd))
}

// Applying the filter twice inserts two blocks. That is the documented
// behavior, not a defect: the filter has no memory of prior runs and the
// firmware reads the first block it sees.
func TestApplyTwiceInsertsTwoBlocks(t *testing.T) {
	rec := Record{
		Material: "PLA",
		Amount:   decimal.NewNullDecimal(decimal.RequireFromString("42.5")),
		Infill:   -1,
	}
	b := NewBuilder(Options{}, nil)

	once := b.Apply(slicedGcode(), rec)
	twice := b.Apply(once, rec)

	assert.Equal(t, 2, countPrefix(twice, KeyFilamentType))
	assert.Len(t, twice, len(slicedGcode())+4)
}

func TestNewBuilderNormalizesOptions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	b := NewBuilder(Options{Quality: 400, ChunkSize: -1, FragmentHeight: -3}, zap.New(core))

	assert.Equal(t, thumbnail.DefaultQuality, b.opts.Quality)
	assert.Equal(t, thumbnail.DefaultChunkSize, b.opts.ChunkSize)
	assert.Equal(t, thumbnail.DefaultFragmentHeight, b.opts.FragmentHeight)
	assert.Equal(t, thumbnail.DefaultWidth, b.opts.Width)
	assert.Equal(t, thumbnail.DefaultHeight, b.opts.Height)

	assert.Len(t, logs.All(), 3, "one warning per out-of-range option")
	assert.Equal(t, 1, logs.FilterMessageSnippet("quality").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("fragment height").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("chunk size").Len())
}

func TestNewBuilderZeroOptionsWarnNothing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	NewBuilder(Options{}, zap.New(core))
	assert.Zero(t, logs.Len(), "unset options take defaults silently")
}
