package ledger

import "math"

// Curve maps total experience points onto levels. Level L costs
// floor(base * growth^(L-1)) experience above the previous level's
// cumulative requirement, a geometric stepladder capped at MaxLevel.
type Curve struct {
	Base     int64
	Growth   float64
	MaxLevel int

	cumulative []int64
}

const (
	DefaultCurveBase   = 1000
	DefaultCurveGrowth = 1.5
	DefaultMaxLevel    = 100
)

func NewCurve(base int64, growth float64, maxLevel int) *Curve {
	c := &Curve{Base: base, Growth: growth, MaxLevel: maxLevel}
	c.cumulative = make([]int64, maxLevel+1)
	step := float64(base)
	for l := 1; l <= maxLevel; l++ {
		c.cumulative[l] = c.cumulative[l-1] + int64(math.Floor(step))
		step *= growth
	}
	return c
}

func DefaultCurve() *Curve {
	return NewCurve(DefaultCurveBase, DefaultCurveGrowth, DefaultMaxLevel)
}

// LevelOf returns the level reached with totalExp. Negative input is
// coerced to zero; output is bounded by MaxLevel.
func (c *Curve) LevelOf(totalExp int64) int {
	if totalExp < 0 {
		totalExp = 0
	}
	level := 0
	for level < c.MaxLevel && totalExp >= c.cumulative[level+1] {
		level++
	}
	return level
}

// RequiredFor returns the cumulative experience needed to reach level.
func (c *Curve) RequiredFor(level int) int64 {
	if level <= 0 {
		return 0
	}
	if level > c.MaxLevel {
		level = c.MaxLevel
	}
	return c.cumulative[level]
}

// Progress breaks totalExp into the current level, experience gained within
// that level, and experience still needed for the next one. needed is 0 at
// MaxLevel.
func (c *Curve) Progress(totalExp int64) (level int, into int64, needed int64) {
	if totalExp < 0 {
		totalExp = 0
	}
	level = c.LevelOf(totalExp)
	into = totalExp - c.cumulative[level]
	if level < c.MaxLevel {
		needed = c.cumulative[level+1] - totalExp
	}
	return level, into, needed
}
