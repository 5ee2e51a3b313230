// Package synth produces bounded random-walk prices that stand in for a
// market-data feed.
package synth

import (
	"math"
	"time"

	"github.com/shubham-shewale/price-relay/pkg/models"
)

const (
	// MaxStep bounds the absolute price change of a single tick.
	MaxStep = 5.0
	// MinPrice is the floor every tick is clamped to.
	MinPrice = 0.01

	stockVolumeMin = 100
	stockVolumeMax = 10000

	cryptoVolumeMin = 0.1
	cryptoVolumeMax = 10.0
)

// Range is a closed price interval used to seed a walk.
type Range struct {
	Min, Max float64
}

// SeedRange returns the interval a walk for the given mode starts in.
func SeedRange(mode models.Mode) Range {
	if mode == models.ModeCrypto {
		return Range{Min: 30000, Max: 60000}
	}
	return Range{Min: 100, Max: 200}
}

// Walk owns the mutable base price of one stream. It is not safe for
// concurrent use.
type Walk struct {
	mode  models.Mode
	rnd   Rand
	price float64
}

// NewWalk seeds a walk uniformly inside the mode's seed range.
func NewWalk(mode models.Mode, rnd Rand) *Walk {
	r := SeedRange(mode)
	return &Walk{
		mode:  mode,
		rnd:   rnd,
		price: Uniform(rnd, r.Min, r.Max),
	}
}

// Price returns the unrounded base price.
func (w *Walk) Price() float64 { return w.price }

// Step perturbs the base price by a uniform delta in [-MaxStep, MaxStep]
// and clamps it to MinPrice.
func (w *Walk) Step() float64 {
	w.price = math.Max(MinPrice, w.price+Uniform(w.rnd, -MaxStep, MaxStep))
	return w.price
}

// Volume draws a mode-appropriate trade size: whole shares for stocks,
// fractional coins for crypto.
func (w *Walk) Volume() float64 {
	if w.mode == models.ModeCrypto {
		return Uniform(w.rnd, cryptoVolumeMin, cryptoVolumeMax)
	}
	return float64(stockVolumeMin + w.rnd.Intn(stockVolumeMax-stockVolumeMin+1))
}

// Next advances the walk one tick and returns the resulting trade.
func (w *Walk) Next(symbol string, now time.Time) models.Trade {
	price := w.Step()
	return models.Trade{
		Symbol:    symbol,
		Price:     Round2(price),
		Timestamp: now.UnixMilli(),
		Volume:    w.Volume(),
	}
}

// Uniform maps rnd.Float64 onto [lo, hi].
func Uniform(rnd Rand, lo, hi float64) float64 {
	return lo + rnd.Float64()*(hi-lo)
}

// Round2 rounds to cents.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
