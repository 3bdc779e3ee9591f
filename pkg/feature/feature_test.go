package feature

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContext() Context {
	return Context{
		Price:             150,
		AccountBalance:    1250,
		MoodScore:         6,
		IsLimitedOffer:    false,
		SleepHours:        7.5,
		MerchantRiskScore: 0.15,
	}
}

func TestDerive_Scenario(t *testing.T) {
	e := Derive(sampleContext())
	assert.InDelta(t, 0.12, e.RelativePrice, 1e-12)
	// (11-6)*0.3 + (11-7.5)*0.3 + 0
	assert.InDelta(t, 2.55, e.ImpulsivityIndex, 1e-12)
}

func TestDerive_RelativePriceFiniteAndNonNegative(t *testing.T) {
	for _, price := range []float64{0, 0.01, 5, 150, 2000, 1e6} {
		for _, bal := range []float64{0.01, 1, 100, 1250, 1e7} {
			c := sampleContext()
			c.Price = price
			c.AccountBalance = bal
			require.NoError(t, Validate(c))
			rp := Derive(c).RelativePrice
			assert.False(t, math.IsInf(rp, 0) || math.IsNaN(rp))
			assert.GreaterOrEqual(t, rp, 0.0)
		}
	}

	extreme := []struct {
		price   float64
		balance float64
	}{
		{1e300, 1e-10},
		{math.MaxFloat64, 0.5},
		{1e308, 1e-300},
	}
	for _, tt := range extreme {
		c := sampleContext()
		c.Price = tt.price
		c.AccountBalance = tt.balance
		err := Validate(c)
		assert.ErrorIs(t, err, ErrInvalidInput, "price %v balance %v", tt.price, tt.balance)
	}
}

func TestDerive_ImpulsivityMonotonic(t *testing.T) {
	base := sampleContext()

	prev := math.Inf(-1)
	for mood := 10; mood >= 1; mood-- {
		c := base
		c.MoodScore = mood
		got := Derive(c).ImpulsivityIndex
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}

	prev = math.Inf(-1)
	for sleep := 12.0; sleep >= 3; sleep -= 0.5 {
		c := base
		c.SleepHours = sleep
		got := Derive(c).ImpulsivityIndex
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}

	off := base
	on := base
	on.IsLimitedOffer = true
	assert.Greater(t, Derive(on).ImpulsivityIndex, Derive(off).ImpulsivityIndex)
}

func TestVector_DeterministicAndOrdered(t *testing.T) {
	c := sampleContext()
	c.IsLimitedOffer = true
	a := Vector(c)
	b := Vector(c)
	assert.Equal(t, a, b)
	require.Len(t, a, len(Names()))

	assert.Equal(t, 150.0, a[Index(Price)])
	assert.Equal(t, 1250.0, a[Index(AccountBalance)])
	assert.Equal(t, 6.0, a[Index(MoodScore)])
	assert.Equal(t, 1.0, a[Index(IsLimitedOffer)])
	assert.Equal(t, 7.5, a[Index(SleepHours)])
	assert.Equal(t, 0.15, a[Index(MerchantRiskScore)])
	assert.InDelta(t, 0.12, a[Index(RelativePrice)], 1e-12)
	assert.InDelta(t, 4.05, a[Index(ImpulsivityIndex)], 1e-12)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Context)
		wantErr bool
	}{
		{"valid", func(*Context) {}, false},
		{"zero price", func(c *Context) { c.Price = 0 }, false},
		{"negative price", func(c *Context) { c.Price = -1 }, true},
		{"zero balance", func(c *Context) { c.AccountBalance = 0 }, true},
		{"negative balance", func(c *Context) { c.AccountBalance = -10 }, true},
		{"mood too low", func(c *Context) { c.MoodScore = 0 }, true},
		{"mood too high", func(c *Context) { c.MoodScore = 11 }, true},
		{"sleep too low", func(c *Context) { c.SleepHours = 2.9 }, true},
		{"sleep too high", func(c *Context) { c.SleepHours = 12.1 }, true},
		{"merchant risk above one", func(c *Context) { c.MerchantRiskScore = 1.5 }, true},
		{"merchant risk negative", func(c *Context) { c.MerchantRiskScore = -0.1 }, true},
		{"nan price", func(c *Context) { c.Price = math.NaN() }, true},
		{"infinite balance", func(c *Context) { c.AccountBalance = math.Inf(1) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleContext()
			tt.mutate(&c)
			err := Validate(c)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrdered(t *testing.T) {
	vec := Vector(sampleContext())

	same, err := Ordered(vec, Names())
	require.NoError(t, err)
	assert.Equal(t, vec, same)

	sub, err := Ordered(vec, []string{SleepHours, Price})
	require.NoError(t, err)
	assert.Equal(t, []float64{7.5, 150}, sub)

	_, err = Ordered(vec, []string{"bogus"})
	assert.Error(t, err)

	_, err = Ordered(vec[:3], Names())
	assert.Error(t, err)
}

func TestSameOrder(t *testing.T) {
	assert.True(t, SameOrder(Names()))

	swapped := Names()
	swapped[0], swapped[1] = swapped[1], swapped[0]
	assert.False(t, SameOrder(swapped))
	assert.False(t, SameOrder(Names()[:4]))
	assert.False(t, SameOrder(nil))
}

func TestNames_ReturnsCopy(t *testing.T) {
	n := Names()
	n[0] = "changed"
	assert.Equal(t, Price, Names()[0])
}

func TestIncreasing(t *testing.T) {
	inc := Increasing()
	require.Len(t, inc, len(Names()))
	for i, name := range Names() {
		want := 0
		if name == Price || name == RelativePrice {
			want = 1
		}
		assert.Equal(t, want, inc[i], name)
	}
}
