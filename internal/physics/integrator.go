package physics

import (
	"math"

	"ballarena/server/internal/world"
)

// AdvancePosition walks a player along its motion vector for one timestep.
//
// The player moves at most speed*dt and never past its remaining distance. The
// motion vector is cleared once the move completes and the final position is
// always clamped to the world, even when the player did not move.
func AdvancePosition(p world.Player, speed, dt, worldSize float64) world.Player {
	//1.- Normalise the remaining distance so negative or NaN counters cannot leak into movement.
	if !(p.RemainingDistance > 0) || math.IsInf(p.RemainingDistance, 1) {
		p.RemainingDistance = 0
	}
	if p.RemainingDistance > 0 && finitePositive(speed) && finitePositive(dt) {
		magnitude := math.Hypot(p.VX, p.VY)
		if finitePositive(magnitude) {
			//2.- Step along the unit vector, capped by whatever distance is left.
			travel := math.Min(speed*dt, p.RemainingDistance)
			p.X += p.VX / magnitude * travel
			p.Y += p.VY / magnitude * travel
			p.RemainingDistance -= travel
		} else {
			p.RemainingDistance = 0
		}
		if p.RemainingDistance < 0 {
			p.RemainingDistance = 0
		}
	}
	//3.- Finished moves stop dead so clients do not extrapolate stale velocity.
	if p.RemainingDistance == 0 {
		p.VX, p.VY = 0, 0
	}
	p.X, p.Y = ClampToWorld(p.X, p.Y, p.Radius, worldSize)
	return p
}

// ClampToWorld keeps a circle of the given radius fully inside a square world.
func ClampToWorld(x, y, radius, worldSize float64) (float64, float64) {
	return clampAxis(x, radius, worldSize), clampAxis(y, radius, worldSize)
}

func clampAxis(value, radius, worldSize float64) float64 {
	if !finiteNonNegative(radius) {
		radius = 0
	}
	if !finiteNonNegative(worldSize) {
		return radius
	}
	low, high := radius, worldSize-radius
	if low > high {
		// Circles wider than the world sit at the centre.
		return worldSize / 2
	}
	if math.IsNaN(value) || value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}

// Direction normalises a raw input vector, reporting false for zero or invalid input.
func Direction(dx, dy float64) (float64, float64, bool) {
	magnitude := math.Hypot(dx, dy)
	if !finitePositive(magnitude) {
		return 0, 0, false
	}
	return dx / magnitude, dy / magnitude, true
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
