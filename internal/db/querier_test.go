package db

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecimalToNumber(t *testing.T) {
	assert.Equal(t, int64(42), decimalToNumber("42"))
	assert.Equal(t, int64(42), decimalToNumber("42.00"))
	assert.InDelta(t, 3.5, decimalToNumber("3.50").(float64), 0.0001)
	assert.Equal(t, "not-a-number", decimalToNumber("not-a-number"))
}

func TestSanitizeFloat(t *testing.T) {
	assert.Nil(t, sanitizeFloat(math.NaN()))
	assert.Nil(t, sanitizeFloat(math.Inf(1)))
	assert.Nil(t, sanitizeFloat(math.Inf(-1)))
	assert.Equal(t, 1.5, sanitizeFloat(1.5))
}
