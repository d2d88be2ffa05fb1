// Package cart turns a checkout cart into the package the carrier is asked to price.
package cart

// Carrier package bounds, in centimetres.
const (
	MinLength = 16
	MaxLength = 105
	MinWidth  = 11
	MaxWidth  = 105
	MinHeight = 2
	MaxHeight = 105
)

type LineItem struct {
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	UnitWeightG int    `json:"unit_weight_g"`
	LengthCM    int    `json:"length_cm"`
	WidthCM     int    `json:"width_cm"`
	HeightCM    int    `json:"height_cm"`
}

// Snapshot is the ordered, immutable view of a cart handed to the pipeline.
type Snapshot struct {
	UserID string
	Items  []LineItem
}

// Package is the aggregated parcel. A zero TotalWeightG means the cart was empty and
// no rate lookup should happen.
type Package struct {
	TotalWeightG int `json:"total_weight_g"`
	LengthCM     int `json:"length_cm"`
	WidthCM      int `json:"width_cm"`
	HeightCM     int `json:"height_cm"`
}

func (p Package) Empty() bool { return p.TotalWeightG == 0 }

// WeightKG is the parcel weight in kilograms.
func (p Package) WeightKG() float64 { return float64(p.TotalWeightG) / 1000 }

// Aggregate computes weight and dimensions for the snapshot. Items are assumed to be
// stacked, so heights add up while length and width take the largest item.
func Aggregate(s Snapshot) Package {
	var pkg Package
	var length, width, height int
	for _, it := range s.Items {
		if it.Quantity <= 0 {
			continue
		}
		pkg.TotalWeightG += it.UnitWeightG * it.Quantity
		length = max(length, it.LengthCM)
		width = max(width, it.WidthCM)
		height += it.HeightCM * it.Quantity
	}
	if pkg.TotalWeightG <= 0 {
		return Package{}
	}
	pkg.LengthCM = clamp(length, MinLength, MaxLength)
	pkg.WidthCM = clamp(width, MinWidth, MaxWidth)
	pkg.HeightCM = clamp(height, MinHeight, MaxHeight)
	return pkg
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
