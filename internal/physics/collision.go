package physics

import (
	"math"

	"ballarena/server/internal/world"
)

// SlowCoefficient controls how quickly accumulated score slows a player down.
const SlowCoefficient = 0.005

// Distance returns the Euclidean distance between two points.
func Distance(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}

// Overlaps reports whether two circles intersect; touching edges do not count.
func Overlaps(a, b world.Circle) bool {
	return Distance(a.X, a.Y, b.X, b.Y) < a.Radius+b.Radius
}

// SpeedFromScore slows players as they grow.
func SpeedFromScore(score uint64, baseSpeed float64) float64 {
	return baseSpeed / (1 + float64(score)*SlowCoefficient)
}

// RadiusFromScore grows the collision circle with the square root of score.
func RadiusFromScore(score uint64, baseRadius float64) float64 {
	return baseRadius + math.Sqrt(float64(score))
}

// CanConsume reports whether an eater is large enough to swallow its prey.
func CanConsume(eaterRadius, preyRadius, sizeFraction float64) bool {
	return eaterRadius > preyRadius*sizeFraction
}
