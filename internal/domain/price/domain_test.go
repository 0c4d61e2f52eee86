package price

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCrossed(t *testing.T) {
	target := d("20.00")
	obs := func(p string) *Observation { return &Observation{Price: d(p)} }

	assert.True(t, Crossed(obs("25.00"), d("19.99"), target))
	assert.True(t, Crossed(obs("20.00"), d("19.99"), target), "at target counts as above")
	assert.True(t, Crossed(nil, d("19.99"), target), "first observation below target")
	assert.False(t, Crossed(obs("19.99"), d("18.00"), target), "already below")
	assert.False(t, Crossed(obs("25.00"), d("20.00"), target), "landing on target is not below")
	assert.False(t, Crossed(nil, d("21.00"), target))
}
