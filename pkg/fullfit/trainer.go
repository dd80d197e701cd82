package fullfit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/HatiCode/chronocast/pkg/adapters"
	"github.com/HatiCode/chronocast/pkg/engines"
	"github.com/HatiCode/chronocast/pkg/models"
	"github.com/HatiCode/chronocast/pkg/schema"
)

// TrainFile is the name of the training table written into the working
// directory.
const TrainFile = "train.csv"

// ZeroShotTrainer "fits" by persisting the training table and wrapping the
// chronos engine around the configured checkpoint. Fine-tuning is not
// performed; the pretrained weights are used as they are.
type ZeroShotTrainer struct {
	Backend models.Backend
	Logger  *slog.Logger
}

func (t ZeroShotTrainer) Fit(ctx context.Context, train *adapters.DataFrame, p FitParams) (Model, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.FineTune {
		logger.Warn("fine-tuning is not supported by the zero-shot trainer, using pretrained weights", "model", p.ModelPath)
	}

	path := filepath.Join(p.WorkDir, TrainFile)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", TrainFile, err)
	}
	if err := adapters.WriteCSV(file, train); err != nil {
		file.Close()
		return nil, fmt.Errorf("write %s: %w", TrainFile, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", TrainFile, err)
	}

	engine, err := engines.New(engines.Chronos, engines.Config{
		Horizon:    p.Horizon,
		Frequency:  p.Frequency,
		RandomSeed: p.Seed,
		ModelURI:   p.ModelPath,
		Device:     p.Device,
		Backend:    t.Backend,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("zero-shot predictor ready", "train_file", path, "rows", train.Len())
	return &zeroShotModel{engine: engine, contextLength: p.ContextLength}, nil
}

type zeroShotModel struct {
	engine        engines.Engine
	contextLength int
}

func (m *zeroShotModel) Predict(ctx context.Context, data *adapters.DataFrame) (*adapters.DataFrame, error) {
	fc, err := m.engine.Predict(ctx, engines.Input{
		Context: tail(data, m.contextLength),
		Columns: schema.Columns{
			Datetime: schema.Timestamp,
			Target:   schema.Target,
			ItemID:   schema.ItemID,
		},
	})
	if err != nil {
		return nil, err
	}

	out := adapters.NewDataFrame(schema.ItemID, schema.Timestamp, ColumnLower, ColumnMean, ColumnUpper)
	out.Rows = make([]adapters.Row, 0, len(fc.Points))
	for _, p := range fc.Points {
		out.Rows = append(out.Rows, adapters.Row{
			schema.ItemID:    p.ItemID,
			schema.Timestamp: p.Timestamp,
			ColumnLower:      p.Lower,
			ColumnMean:       p.Point,
			ColumnUpper:      p.Upper,
		})
	}
	return out, nil
}

// tail keeps the last n observations of every series in a canonical frame.
func tail(frame *adapters.DataFrame, n int) *adapters.DataFrame {
	if n <= 0 || frame.Len() <= n {
		return frame
	}
	out := adapters.NewDataFrame(schema.ItemID, schema.Timestamp, schema.Target)
	for _, s := range schema.Group(frame) {
		start := max(0, len(s.Timestamps)-n)
		for i := start; i < len(s.Timestamps); i++ {
			out.Rows = append(out.Rows, adapters.Row{
				schema.ItemID:    s.ItemID,
				schema.Timestamp: s.Timestamps[i],
				schema.Target:    s.Targets[i],
			})
		}
	}
	return out
}
