package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/helenavibes/ML-service/internal/models"
)

// Cost returns model.CostPerRecord × validCount with no rounding
func Cost(model *models.Model, validCount int) (decimal.Decimal, error) {
	if validCount < 0 {
		return decimal.Zero, fmt.Errorf("valid record count cannot be negative: %d", validCount)
	}
	return model.CostPerRecord.Mul(decimal.NewFromInt(int64(validCount))), nil
}
