package pipeline

import (
	"github.com/c360studio/semcontext/config"
	"github.com/c360studio/semcontext/source/window"
)

// ConfigOptions translates the pipeline and window sections of cfg into
// driver options. Stores, progress and publishing are wired by the caller.
func ConfigOptions(cfg *config.Config) ([]Option, error) {
	builder, err := window.New(cfg.WindowBuilderConfig())
	if err != nil {
		return nil, err
	}
	p := cfg.Pipeline
	return []Option{
		WithWindowBuilder(builder),
		WithConcurrency(p.Concurrency),
		WithDocumentConcurrency(p.DocumentConcurrency),
		WithDocumentTimeout(p.DocumentTimeout),
		WithPacing(p.RequestsPerSecond, p.Burst),
		WithTemperature(p.Temperature),
		WithExtraction(p.ExtractEntities),
		WithWorkerID(p.WorkerID),
		WithBatchSize(p.BatchSize),
		WithStuckAfter(p.StuckAfter),
	}, nil
}
