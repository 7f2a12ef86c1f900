package inference

import (
	"context"
	"fmt"

	"github.com/helenavibes/ML-service/internal/models"
)

// Predictor turns valid records into results. Implementations must return
// exactly one result per record, in input order.
type Predictor interface {
	Predict(ctx context.Context, model *models.Model, records []models.Record) ([]interface{}, error)
}

// PredictorFunc adapts a function to the Predictor interface
type PredictorFunc func(ctx context.Context, model *models.Model, records []models.Record) ([]interface{}, error)

func (f PredictorFunc) Predict(ctx context.Context, model *models.Model, records []models.Record) ([]interface{}, error) {
	return f(ctx, model, records)
}

// StubPredictor produces deterministic placeholder results "prediction_<i>"
type StubPredictor struct{}

func NewStubPredictor() *StubPredictor {
	return &StubPredictor{}
}

func (p *StubPredictor) Predict(ctx context.Context, model *models.Model, records []models.Record) ([]interface{}, error) {
	results := make([]interface{}, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i] = fmt.Sprintf("prediction_%d", i)
	}
	return results, nil
}
