package vault

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVault_AddPreservesOrder(t *testing.T) {
	v := New()
	v.Add("headphones", 199.99, 72.5)
	v.Add("sneakers", 120, 64)
	v.Add("", 15.5, 61)

	items := v.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "headphones", items[0].Item)
	assert.Equal(t, "sneakers", items[1].Item)
	assert.Equal(t, ItemDefault, items[2].Item)
	assert.Equal(t, 3, v.Len())

	ids := map[string]bool{}
	for _, e := range items {
		assert.NotEmpty(t, e.ID)
		ids[e.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestVault_Clear(t *testing.T) {
	v := New()
	for i := 0; i < 3; i++ {
		v.Add("item", 10, 70)
	}
	require.Equal(t, 3, v.Len())

	v.Clear()
	assert.Equal(t, 0, v.Len())
	assert.Empty(t, v.Items())
	assert.True(t, v.Total().IsZero())
}

func TestVault_NoDedup(t *testing.T) {
	v := New()
	v.Add("same", 10, 70)
	v.Add("same", 10, 70)
	assert.Equal(t, 2, v.Len())
}

func TestVault_Total(t *testing.T) {
	v := New()
	v.Add("a", 0.1, 70)
	v.Add("b", 0.2, 70)
	v.Add("c", 150.456, 70)
	assert.True(t, decimal.RequireFromString("150.76").Equal(v.Total()), v.Total().String())
}

func TestVault_ItemsIsCopy(t *testing.T) {
	v := New()
	v.Add("a", 1, 70)
	items := v.Items()
	items[0].Item = "changed"
	assert.Equal(t, "a", v.Items()[0].Item)
}

func TestVault_AddedAt(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v := New()
	v.now = func() time.Time { return fixed }
	e := v.Add("a", 1, 70)
	assert.Equal(t, fixed, e.AddedAt)
}
