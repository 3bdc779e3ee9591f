package feature

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Impulsivity weights applied to the mood deficit, sleep deficit and
// limited-offer signals.
const (
	MoodWeight         = 0.3
	SleepWeight        = 0.3
	LimitedOfferWeight = 1.5

	// deficitBase is the reference point the mood and sleep deficits are measured from.
	deficitBase = 11.0
)

// Canonical column names, in the order the estimator expects them.
const (
	Price             = "price"
	AccountBalance    = "account_balance"
	MoodScore         = "mood_score"
	IsLimitedOffer    = "is_limited_offer"
	SleepHours        = "sleep_hours"
	MerchantRiskScore = "merchant_risk_score"
	RelativePrice     = "relative_price"
	ImpulsivityIndex  = "impulsivity_index"
)

var (
	// ErrInvalidInput is returned when a context holds out-of-range values.
	ErrInvalidInput = errors.New("invalid input")

	// MerchantRiskLevels are the preset category risk values offered to users.
	MerchantRiskLevels = []float64{0.05, 0.15, 0.30, 0.50}

	names = []string{
		Price,
		AccountBalance,
		MoodScore,
		IsLimitedOffer,
		SleepHours,
		MerchantRiskScore,
		RelativePrice,
		ImpulsivityIndex,
	}

	validate = validator.New()
)

// Context holds the raw inputs of a single purchase decision.
type Context struct {
	Price             float64 `json:"price" yaml:"price" validate:"gte=0"`
	AccountBalance    float64 `json:"account_balance" yaml:"account_balance" validate:"gt=0"`
	MoodScore         int     `json:"mood_score" yaml:"mood_score" validate:"min=1,max=10"`
	IsLimitedOffer    bool    `json:"is_limited_offer" yaml:"is_limited_offer"`
	SleepHours        float64 `json:"sleep_hours" yaml:"sleep_hours" validate:"gte=3,lte=12"`
	MerchantRiskScore float64 `json:"merchant_risk_score" yaml:"merchant_risk_score" validate:"gte=0,lte=1"`
}

// Engineered holds the features derived from a Context.
type Engineered struct {
	RelativePrice    float64 `json:"relative_price" yaml:"relative_price"`
	ImpulsivityIndex float64 `json:"impulsivity_index" yaml:"impulsivity_index"`
}

// Names returns a copy of the canonical feature order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Increasing returns one entry per canonical feature, 1 where the regret
// score must not fall as the feature grows.
func Increasing() []int {
	out := make([]int, len(names))
	out[Index(Price)] = 1
	out[Index(RelativePrice)] = 1
	return out
}

// Index returns the position of the named feature or -1.
func Index(name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Validate checks the context before any derived feature is computed.
func Validate(c Context) error {
	finite := []struct {
		name string
		val  float64
	}{
		{Price, c.Price},
		{AccountBalance, c.AccountBalance},
		{SleepHours, c.SleepHours},
		{MerchantRiskScore, c.MerchantRiskScore},
	}
	for _, f := range finite {
		if math.IsNaN(f.val) || math.IsInf(f.val, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidInput, f.name)
		}
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// in-range fields can still overflow the ratio, e.g. 1e300 / 1e-10
	if rp := c.Price / c.AccountBalance; math.IsInf(rp, 0) || math.IsNaN(rp) {
		return fmt.Errorf("%w: %s of %v / %v is not finite", ErrInvalidInput, RelativePrice, c.Price, c.AccountBalance)
	}
	return nil
}

// Derive computes the engineered features. The caller must have validated c;
// a non-positive balance yields a non-finite relative price.
func Derive(c Context) Engineered {
	offer := 0.0
	if c.IsLimitedOffer {
		offer = 1
	}
	return Engineered{
		RelativePrice: c.Price / c.AccountBalance,
		ImpulsivityIndex: (deficitBase-float64(c.MoodScore))*MoodWeight +
			(deficitBase-c.SleepHours)*SleepWeight +
			offer*LimitedOfferWeight,
	}
}

// Vector returns the full feature vector of c in canonical order.
// The same function is used when building training tables and when scoring.
func Vector(c Context) []float64 {
	e := Derive(c)
	offer := 0.0
	if c.IsLimitedOffer {
		offer = 1
	}
	return []float64{
		c.Price,
		c.AccountBalance,
		float64(c.MoodScore),
		offer,
		c.SleepHours,
		c.MerchantRiskScore,
		e.RelativePrice,
		e.ImpulsivityIndex,
	}
}

// Ordered rearranges a canonical vector into the given column order.
// Unknown column names are reported as an error rather than skipped.
func Ordered(vec []float64, order []string) ([]float64, error) {
	if len(vec) != len(names) {
		return nil, fmt.Errorf("vector has %d values, expected %d", len(vec), len(names))
	}
	out := make([]float64, len(order))
	for i, name := range order {
		idx := Index(name)
		if idx < 0 {
			return nil, fmt.Errorf("unknown feature %q", name)
		}
		out[i] = vec[idx]
	}
	return out, nil
}

// SameOrder reports whether order matches the canonical feature order exactly.
func SameOrder(order []string) bool {
	if len(order) != len(names) {
		return false
	}
	for i := range order {
		if order[i] != names[i] {
			return false
		}
	}
	return true
}
