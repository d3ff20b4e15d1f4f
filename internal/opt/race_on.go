//go:build race

package opt

// Race_ reports whether the race detector is enabled.
// Stress loops shrink under the detector because it slows every
// atomic and mutex operation by an order of magnitude.
const Race_ = true
