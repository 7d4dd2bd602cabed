// Package planner computes output frame sizes that keep the source aspect
// ratio while pinning one edge to the quality tier's baseline.
package planner

import (
	"errors"
	"fmt"
	"math"

	"hlspackager/internal/models"
)

// ErrInvalidDimensions is returned for non-positive source or baseline sizes.
var ErrInvalidDimensions = errors.New("invalid dimensions")

// Plan pins the short edge of a landscape source (or the width of a portrait
// or square one) to baselineEdge and derives the other edge from the source
// aspect ratio. Both edges are rounded up to even values for yuv420p.
func Plan(sourceWidth, sourceHeight, baselineEdge int) (models.Resolution, error) {
	if sourceWidth <= 0 || sourceHeight <= 0 {
		return models.Resolution{}, fmt.Errorf("%w: source %dx%d", ErrInvalidDimensions, sourceWidth, sourceHeight)
	}
	if baselineEdge <= 0 {
		return models.Resolution{}, fmt.Errorf("%w: baseline edge %d", ErrInvalidDimensions, baselineEdge)
	}

	aspect := float64(sourceWidth) / float64(sourceHeight)

	var width, height int
	if aspect > 1 {
		height = baselineEdge
		width = int(math.Round(float64(height) * aspect))
	} else {
		width = baselineEdge
		height = int(math.Round(float64(width) / aspect))
	}

	return models.Resolution{Width: evenCeil(width), Height: evenCeil(height)}, nil
}

func evenCeil(v int) int {
	if v < 2 {
		return 2
	}
	if v%2 != 0 {
		return v + 1
	}
	return v
}
