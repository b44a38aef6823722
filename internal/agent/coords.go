// File: internal/agent/coords.go
// Description: Coordinate normalization. Two model output spaces exist and
// each executor is bound to exactly one of them; mixing schemes is a design
// error guarded against in tests.

package agent

import "github.com/droidpilot/droidpilot/internal/device"

// CoordScheme names the convention a VLM mode emits coordinates in. The
// convention is an explicit property of each executor, never inferred at
// call time.
type CoordScheme int

const (
	// SchemeBucketed treats values below 1000 as positions on a 0-999
	// relative scale and larger values as already-absolute pixels.
	SchemeBucketed CoordScheme = iota
	// SchemeFraction treats values as floating-point fractions of the screen
	// dimension in [0, 1].
	SchemeFraction
)

const (
	bucketCutoff  = 1000.0
	bucketDivisor = 999.0
)

// MapBucketed converts one bucketed-relative coordinate to screen pixels.
// Values below the cutoff scale linearly over the 0-999 range; values at or
// above it are clamped absolute pixels.
func MapBucketed(v float64, dim int) int {
	if dim <= 0 {
		return 0
	}
	max := float64(dim)
	if v < 0 {
		return 0
	}
	if v < bucketCutoff {
		px := v * max / bucketDivisor
		if px > max {
			px = max
		}
		return int(px)
	}
	if v > max {
		return dim
	}
	return int(v)
}

// MapFraction converts one fractional coordinate to screen pixels, clamping
// into [0, dim-1] so no out-of-bounds coordinate ever reaches the device.
func MapFraction(f float64, dim int) int {
	if dim <= 0 {
		return 0
	}
	px := int(f * float64(dim))
	if px < 0 {
		return 0
	}
	if px >= dim {
		return dim - 1
	}
	return px
}

// mapPoint applies the scheme to a model-space point.
func mapPoint(scheme CoordScheme, x, y float64, size device.ScreenSize) (int, int) {
	if scheme == SchemeFraction {
		return MapFraction(x, size.Width), MapFraction(y, size.Height)
	}
	return MapBucketed(x, size.Width), MapBucketed(y, size.Height)
}

// swipeTravel is the synthesized gesture length: one third of the shorter
// screen dimension.
func swipeTravel(size device.ScreenSize) int {
	shorter := size.Width
	if size.Height < shorter {
		shorter = size.Height
	}
	return shorter / 3
}

// ResolveSwipe produces absolute start and end pixels for a swipe. Explicit
// endpoints are mapped through the scheme; directional swipes are synthesized
// around the anchor (or the screen center when none was supplied).
func ResolveSwipe(scheme CoordScheme, sw SwipeAction, size device.ScreenSize) (x1, y1, x2, y2 int) {
	if sw.HasEnd {
		x1, y1 = mapPoint(scheme, sw.X1, sw.Y1, size)
		x2, y2 = mapPoint(scheme, sw.X2, sw.Y2, size)
		return x1, y1, x2, y2
	}

	cx, cy := size.Width/2, size.Height/2
	if sw.HasAnchor {
		cx, cy = mapPoint(scheme, sw.X1, sw.Y1, size)
	}

	travel := swipeTravel(size)
	half := travel / 2
	switch sw.Direction {
	case SwipeUp:
		return cx, clampDim(cy+half, size.Height), cx, clampDim(cy-half, size.Height)
	case SwipeDown:
		return cx, clampDim(cy-half, size.Height), cx, clampDim(cy+half, size.Height)
	case SwipeLeft:
		return clampDim(cx+half, size.Width), cy, clampDim(cx-half, size.Width), cy
	default: // SwipeRight
		return clampDim(cx-half, size.Width), cy, clampDim(cx+half, size.Width), cy
	}
}

func clampDim(v, dim int) int {
	if v < 0 {
		return 0
	}
	if v >= dim {
		return dim - 1
	}
	return v
}
