package world

// DotTier describes one row of the food table.
type DotTier struct {
	Name         string
	Score        uint64
	Color        Color
	RadiusFactor float64
	Weight       int
}

var dotTiers = []DotTier{
	{Name: "small", Score: 2, Color: Color{120, 220, 120}, RadiusFactor: 1.0, Weight: 70},
	{Name: "medium", Score: 5, Color: Color{80, 160, 255}, RadiusFactor: 1.5, Weight: 22},
	{Name: "large", Score: 10, Color: Color{255, 170, 60}, RadiusFactor: 2.0, Weight: 8},
}

// DotTiers returns a copy of the food table ordered from smallest to largest.
func DotTiers() []DotTier {
	out := make([]DotTier, len(dotTiers))
	copy(out, dotTiers)
	return out
}

// PickDotTier maps a roll in [0, total weight) onto a tier.
func PickDotTier(roll int) DotTier {
	if roll < 0 {
		roll = 0
	}
	for _, tier := range dotTiers {
		if roll < tier.Weight {
			return tier
		}
		roll -= tier.Weight
	}
	return dotTiers[len(dotTiers)-1]
}

// TotalDotWeight is the exclusive upper bound for PickDotTier rolls.
func TotalDotWeight() int {
	total := 0
	for _, tier := range dotTiers {
		total += tier.Weight
	}
	return total
}

// NewDot builds a dot of the given tier scaled from the base dot radius.
func NewDot(id uint64, x, y, baseRadius float64, tier DotTier) Dot {
	return Dot{
		ID:     id,
		X:      x,
		Y:      y,
		Radius: baseRadius * tier.RadiusFactor,
		Color:  tier.Color,
		Score:  tier.Score,
	}
}
