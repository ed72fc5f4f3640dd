package main

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

const (
	stepMin  = -1.0
	stepMax  = 1.0
	valueMin = 0.0
	valueMax = 10000.0
)

// startRanges seed a walk by parameter type name. Matching is by substring.
var startRanges = []struct {
	needle   string
	min, max float64
}{
	{"температура", 20, 100},
	{"ток", 10, 50},
	{"мощность", 1000, 5000},
	{"скорость", 1, 10},
	{"вибрация", 0, 3},
	{"давление", 1, 5},
	{"разрежение", 50, 200},
	{"уровень", 10, 100},
	{"высота", 10, 100},
}

type randomWalk struct {
	rnd   *rand.Rand
	value float64
}

func newRandomWalk(typeName string, rnd *rand.Rand) *randomWalk {
	lo, hi := 0.0, 50.0
	name := strings.ToLower(typeName)
	for _, r := range startRanges {
		if strings.Contains(name, r.needle) {
			lo, hi = r.min, r.max
			break
		}
	}
	return &randomWalk{rnd: rnd, value: lo + rnd.Float64()*(hi-lo)}
}

// Next advances the walk and returns the value rounded to two decimals.
func (w *randomWalk) Next() float64 {
	w.value += stepMin + w.rnd.Float64()*(stepMax-stepMin)
	w.value = math.Max(valueMin, math.Min(valueMax, w.value))
	return math.Round(w.value*100) / 100
}

func (w *randomWalk) Pause(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.rnd.Int63n(int64(hi-lo)))
}
