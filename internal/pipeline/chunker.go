package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fmueller/speakerscribe/internal/media"
)

// Chunk is one upload-sized piece of a clip. Owned chunks were created by
// the chunker and must be removed by whoever consumes them.
type Chunk struct {
	Index int
	Clip  media.Clip
	Start float64
	End   float64
	Owned bool
}

// Chunker splits clips larger than MaxBytes into equal-duration parts.
type Chunker struct {
	Tool     media.Tool
	MaxBytes int64
	Logger   *zap.Logger
}

// Split returns clip unchanged as a single unowned chunk when it fits,
// without touching the media tool. Otherwise it probes the duration and cuts
// ceil(size/max) parts of equal duration into dir (the clip's directory when
// empty). Part sizes are not verified: variable bitrate audio can still
// produce a part over the ceiling.
func (c *Chunker) Split(ctx context.Context, clip media.Clip, dir string) ([]Chunk, error) {
	maxBytes := c.maxBytes()
	if clip.Size <= maxBytes {
		return []Chunk{{Index: 0, Clip: clip, Start: 0, End: clip.Duration}}, nil
	}

	logger := c.logger()

	duration, err := c.Tool.ProbeDuration(ctx, clip.Path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ChunkError{Err: asToolError(err)}
	}

	parts := PartCount(clip.Size, maxBytes)
	bounds := PartBounds(duration, parts)

	if dir == "" {
		dir = filepath.Dir(clip.Path)
	}
	base := strings.TrimSuffix(filepath.Base(clip.Path), filepath.Ext(clip.Path))
	ext := clipExt(clip.Path)

	logger.Debug("splitting clip",
		zap.String("clip", clip.Path),
		zap.String("size", humanize.IBytes(uint64(clip.Size))),
		zap.Float64("duration", duration),
		zap.Int("parts", parts),
	)

	chunks := make([]Chunk, 0, parts)
	for i, b := range bounds {
		dst := filepath.Join(dir, fmt.Sprintf("%s_part_%d%s", base, i+1, ext))
		if err := c.Tool.Cut(ctx, clip.Path, b[0], b[1]-b[0], dst); err != nil {
			_ = os.Remove(dst)
			_ = Cleanup(chunks)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &ChunkError{Chunk: i, Chunks: parts, Err: asToolError(err)}
		}

		part, err := media.StatClip(dst, b[1]-b[0])
		if err != nil {
			_ = os.Remove(dst)
			_ = Cleanup(chunks)
			return nil, &ChunkError{Chunk: i, Chunks: parts, Err: asToolError(err)}
		}
		if part.Size > maxBytes {
			logger.Debug("chunk exceeds size ceiling",
				zap.String("chunk", dst),
				zap.String("size", humanize.IBytes(uint64(part.Size))),
				zap.String("max", humanize.IBytes(uint64(maxBytes))),
			)
		}

		chunks = append(chunks, Chunk{Index: i, Clip: part, Start: b[0], End: b[1], Owned: true})
	}

	return chunks, nil
}

func (c *Chunker) maxBytes() int64 {
	if c.MaxBytes <= 0 {
		return DefaultMaxChunkBytes
	}
	return c.MaxBytes
}

func (c *Chunker) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// PartCount is ceil(size/limit), and at least 1.
func PartCount(size, limit int64) int {
	if size <= 0 || limit <= 0 {
		return 1
	}
	return int((size + limit - 1) / limit)
}

// PartBounds divides [0, duration) into parts equal ranges. Each boundary is
// computed from its index, so part i ends exactly where part i+1 starts, and
// the last part ends at duration.
func PartBounds(duration float64, parts int) [][2]float64 {
	if parts < 1 {
		parts = 1
	}
	part := duration / float64(parts)
	bounds := make([][2]float64, parts)
	for i := range bounds {
		bounds[i] = [2]float64{float64(i) * part, float64(i+1) * part}
	}
	bounds[parts-1][1] = duration
	return bounds
}

// Cleanup removes the files of owned chunks.
func Cleanup(chunks []Chunk) error {
	var errs []error
	for _, chunk := range chunks {
		if !chunk.Owned {
			continue
		}
		if err := os.Remove(chunk.Clip.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func asToolError(err error) error {
	if errors.Is(err, media.ErrTool) {
		return err
	}
	return fmt.Errorf("%w: %w", media.ErrTool, err)
}
