// Package regionweights precomputes a spatial weighting grid used by
// the transient metrics engine to emphasize detections and masks near
// the lower-center of a frame, where a person operating the rig is
// most likely to appear, and de-emphasize the corners.
package regionweights

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Map is a precomputed, normalized weighting grid over a frame's
// [0,1] x [0,1] normalized coordinate space.
type Map struct {
	grid *mat.Dense
	rows int
	cols int
}

// Config controls the shape and decay profile of the weight map.
type Config struct {
	Rows int
	Cols int
	// Sigma controls how quickly weight decays away from the focal
	// point; smaller values concentrate weight more tightly.
	Sigma float64
}

// DefaultConfig returns the standard grid resolution and decay used in
// production: a moderately smooth falloff from the lower-center cell.
func DefaultConfig() Config {
	return Config{Rows: 32, Cols: 32, Sigma: 0.45}
}

// Build constructs a normalized weight Map: raw weights follow a
// Gaussian falloff from the lower-center focal point (row=Rows-1,
// col=(Cols-1)/2), then are scaled so the unweighted average over all
// cells equals 1 — i.e. summing the grid and dividing by rows*cols
// yields 1, matching "normalized so the unweighted uniform sum equals 1".
func Build(cfg Config) (*Map, error) {
	if cfg.Rows <= 0 || cfg.Cols <= 0 {
		return nil, fmt.Errorf("regionweights: rows and cols must be positive, got %dx%d", cfg.Rows, cfg.Cols)
	}
	if cfg.Sigma <= 0 {
		return nil, fmt.Errorf("regionweights: sigma must be positive, got %v", cfg.Sigma)
	}

	focalRow := float64(cfg.Rows - 1)
	focalCol := float64(cfg.Cols-1) / 2.0

	raw := mat.NewDense(cfg.Rows, cfg.Cols, nil)
	var sum float64
	for r := 0; r < cfg.Rows; r++ {
		for c := 0; c < cfg.Cols; c++ {
			dr := (float64(r) - focalRow) / float64(cfg.Rows)
			dc := (float64(c) - focalCol) / float64(cfg.Cols)
			dist2 := dr*dr + dc*dc
			w := math.Exp(-dist2 / (2 * cfg.Sigma * cfg.Sigma))
			raw.Set(r, c, w)
			sum += w
		}
	}

	cells := float64(cfg.Rows * cfg.Cols)
	scale := cells / sum
	raw.Scale(scale, raw)

	return &Map{grid: raw, rows: cfg.Rows, cols: cfg.Cols}, nil
}

// Weight returns the weight for a normalized frame coordinate (x, y),
// each in [0, 1], where y=0 is the top of the frame and y=1 is the
// bottom. Coordinates outside [0,1] are clamped.
func (m *Map) Weight(x, y float64) float64 {
	x = clamp01(x)
	y = clamp01(y)

	col := int(x * float64(m.cols))
	row := int(y * float64(m.rows))
	if col >= m.cols {
		col = m.cols - 1
	}
	if row >= m.rows {
		row = m.rows - 1
	}
	return m.grid.At(row, col)
}

// Dims returns the grid's row and column count.
func (m *Map) Dims() (rows, cols int) {
	return m.rows, m.cols
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
