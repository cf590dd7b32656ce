package domain_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackfi/pool-indexer/internal/domain"
)

func TestScaleAmount(t *testing.T) {
	t.Run("scales by the pool's asset decimals", func(t *testing.T) {
		// 1000 tokens with 6 decimals
		raw, ok := new(big.Int).SetString("1000000000", 10)
		assert.True(t, ok)

		scaled := domain.ScaleAmount(raw, 6)
		assert.Equal(t, "1000", scaled.String())
	})

	t.Run("preserves fractional amounts", func(t *testing.T) {
		scaled := domain.ScaleAmount(big.NewInt(1500000), 6)
		assert.Equal(t, "1.5", scaled.String())
	})

	t.Run("handles 18 decimal assets", func(t *testing.T) {
		raw, ok := new(big.Int).SetString("2500000000000000000", 10)
		assert.True(t, ok)

		scaled := domain.ScaleAmount(raw, 18)
		assert.Equal(t, "2.5", scaled.String())
	})

	t.Run("treats nil as zero", func(t *testing.T) {
		scaled := domain.ScaleAmount(nil, 6)
		assert.True(t, scaled.IsZero())
	})

	t.Run("zero decimals passes through", func(t *testing.T) {
		scaled := domain.ScaleAmount(big.NewInt(42), 0)
		assert.Equal(t, "42", scaled.String())
	})
}
