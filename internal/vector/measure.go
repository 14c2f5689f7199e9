package vector

import (
	"fmt"
	"strings"
)

// MeasureKind names one of the running-average accumulators.
type MeasureKind int

const (
	MeasureAge MeasureKind = iota
	MeasureWindowSize
	MeasureUptoAge
	MeasureMessageSize
	numMeasures
)

var measureNames = [numMeasures]string{"age", "window-size", "upto-age", "message-size"}

// String returns the string representation of MeasureKind.
func (k MeasureKind) String() string {
	if k < 0 || k >= numMeasures {
		return fmt.Sprintf("measure(%d)", int(k))
	}
	return measureNames[k]
}

// ParseMeasureKind parses a measurement name.
func ParseMeasureKind(s string) (MeasureKind, error) {
	for i, name := range measureNames {
		if strings.EqualFold(s, name) {
			return MeasureKind(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMeasurement, s)
}

// Measurement is a read-only view of an accumulator.
type Measurement struct {
	Kind       MeasureKind
	Enabled    bool
	Samples    int
	MaxSamples int
	Average    float64
}

// accumulator keeps a running average. It stops once it has collected
// max samples; max == 0 means unlimited.
type accumulator struct {
	enabled bool
	samples int
	max     int
	avg     float64
}

func (a *accumulator) reset(maxSamples int) {
	*a = accumulator{enabled: true, max: maxSamples}
}

func (a *accumulator) add(x float64) {
	if !a.enabled || (a.max > 0 && a.samples >= a.max) {
		return
	}
	n := float64(a.samples)
	a.avg = x/(n+1) + a.avg*(n/(n+1))
	a.samples++
}
