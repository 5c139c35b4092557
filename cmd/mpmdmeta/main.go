// Command mpmdmeta post-processes sliced G-code for the Monoprice Mini
// Delta v2: it embeds an SJPG thumbnail plus material and infill metadata
// in the vendor command format the printer's display firmware parses.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"mpmdmeta/internal/config"
	"mpmdmeta/internal/logger"
	"mpmdmeta/internal/metadata"
)

func main() {
	flags := pflag.NewFlagSet("mpmdmeta", pflag.ExitOnError)
	input := flags.StringP("in", "i", "", "Path to the sliced G-code file")
	output := flags.StringP("out", "o", "", "Output path (default: <in>_mpmd.gcode)")
	configPath := flags.StringP("config", "c", "", "Path to a YAML config file")
	flags.String("thumbnail", "", "Path to the thumbnail image (PNG, JPEG or SVG)")
	flags.String("material", "", "Material name to embed")
	flags.String("amount", "", "Material amount override in millimetres")
	flags.Int("infill", -1, "Infill density percentage to embed")
	flags.Int("quality", 30, "JPEG quality of the embedded thumbnail (1-100)")
	flags.Bool("rescale", false, "Rescale wrong-sized thumbnails instead of skipping them")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Parse(os.Args[1:])

	if *input == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -i sliced.gcode [flags]\n\n", flags.Name())
		flags.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mpmdmeta: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mpmdmeta: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log, *input, *output); err != nil {
		log.Error("export failed", zap.Error(err))
		os.Exit(1)
	}
}

// run applies the metadata filter to one G-code file. Only host-level I/O
// failures return an error; a skipped thumbnail or metadata block still
// produces a usable output file.
func run(cfg *config.Config, log *zap.Logger, input, output string) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("reading %s: %w", input, err)
	}

	// Preserve the file's newline convention on output.
	newline := "\n"
	text := string(data)
	if strings.Contains(text, "\r\n") {
		newline = "\r\n"
		text = strings.ReplaceAll(text, "\r\n", "\n")
	}
	lines := strings.Split(text, "\n")

	builder := metadata.NewBuilder(metadata.Options{
		ThumbnailPath:  cfg.Thumbnail.Path,
		Width:          cfg.Thumbnail.Width,
		Height:         cfg.Thumbnail.Height,
		Quality:        cfg.Thumbnail.Quality,
		FragmentHeight: cfg.Thumbnail.FragmentHeight,
		ChunkSize:      cfg.Thumbnail.ChunkSize,
		Rescale:        cfg.Thumbnail.Rescale,
	}, log)

	result := builder.Apply(lines, buildRecord(cfg, log))

	if output == "" {
		output = defaultOutput(input)
	}
	if err := os.WriteFile(output, []byte(strings.Join(result, newline)), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	log.Info("wrote annotated G-code",
		zap.String("path", output),
		zap.Int("inserted_lines", len(result)-len(lines)))
	return nil
}

// buildRecord assembles the metadata record from configuration. A malformed
// amount drops only that field.
func buildRecord(cfg *config.Config, log *zap.Logger) metadata.Record {
	rec := metadata.Record{
		Material: cfg.Metadata.Material,
		Infill:   cfg.Metadata.Infill,
	}

	if cfg.Metadata.AmountMM != "" {
		amount, err := decimal.NewFromString(cfg.Metadata.AmountMM)
		if err != nil {
			log.Warn("ignoring malformed material amount",
				zap.String("value", cfg.Metadata.AmountMM),
				zap.Error(err))
		} else {
			rec.Amount = decimal.NewNullDecimal(amount)
		}
	}
	return rec
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_mpmd" + ext
}
