package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/limitrofe/stickers/internal/metrics"
)

// Pipeline runs background removal, outline synthesis and sticker encoding
// in order. The first two stages degrade: on failure their input is passed
// on unchanged. Encoding failure is fatal. Pipeline keeps no state between
// calls and is safe for concurrent use.
type Pipeline struct {
	remover  BackgroundRemover
	outliner *Outliner
	encoder  *StickerEncoder
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New builds a Pipeline. A nil remover skips background removal.
func New(remover BackgroundRemover, outliner *Outliner, encoder *StickerEncoder, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		remover:  remover,
		outliner: outliner,
		encoder:  encoder,
		logger:   logger,
		metrics:  m,
	}
}

func (p *Pipeline) Process(ctx context.Context, raw []byte) Result {
	var res Result
	data := raw

	if p.remover != nil {
		data = p.degradable(StageBackgroundRemoval, data, &res, func(in []byte) ([]byte, error) {
			return p.remover.Remove(ctx, in)
		})
	}

	data = p.degradable(StageOutline, data, &res, p.outliner.Apply)

	sticker, err := p.encoder.Encode(data)
	if err != nil {
		res.Err = &StageError{Stage: StageEncode, Err: fmt.Errorf("%w: %w", ErrEncodeFailed, err)}
		return res
	}

	res.Data = sticker
	return res
}

func (p *Pipeline) degradable(stage Stage, in []byte, res *Result, run func([]byte) ([]byte, error)) []byte {
	out, err := run(in)
	if err == nil && len(out) == 0 {
		err = ErrEmptyOutput
	}
	if err == nil {
		p.logger.Debug("Stage completed",
			slog.String("stage", string(stage)),
			slog.Int("bytes", len(out)),
		)
		return out
	}

	p.logger.Warn("Stage failed, forwarding input",
		slog.String("stage", string(stage)),
		slog.Any("error", err),
	)
	p.metrics.StageDegraded(string(stage))
	res.Degraded = append(res.Degraded, stage)
	return in
}
