package shipping

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

type serviceProfile struct {
	name     string
	base     decimal.Decimal
	perKG    decimal.Decimal
	baseDays int
	kmPerDay float64
}

var profiles = map[string]serviceProfile{
	ServicePAC:     {name: "PAC", base: decimal.RequireFromString("18.00"), perKG: decimal.RequireFromString("4.50"), baseDays: 5, kmPerDay: 350},
	ServiceSEDEX:   {name: "SEDEX", base: decimal.RequireFromString("28.00"), perKG: decimal.RequireFromString("7.50"), baseDays: 1, kmPerDay: 700},
	ServiceSEDEX12: {name: "SEDEX 12", base: decimal.RequireFromString("40.00"), perKG: decimal.RequireFromString("9.00"), baseDays: 1, kmPerDay: 1200},
	ServiceSEDEX10: {name: "SEDEX 10", base: decimal.RequireFromString("48.00"), perKG: decimal.RequireFromString("10.00"), baseDays: 1, kmPerDay: 1200},
}

// ServiceName returns the display name of a known service code, or the code itself.
func ServiceName(code string) string {
	if p, ok := profiles[code]; ok {
		return p.name
	}
	return code
}

// Rough centroid per leading CEP digit (postal region).
var regionCentroids = [10][2]float64{
	{-23.55, -46.63}, // 0 São Paulo metro
	{-22.00, -48.50}, // 1 São Paulo interior
	{-22.00, -42.50}, // 2 RJ, ES
	{-19.90, -44.00}, // 3 MG
	{-12.50, -39.50}, // 4 BA, SE
	{-8.00, -36.00},  // 5 PE, AL, PB, RN
	{-4.00, -45.00},  // 6 CE, PI, MA, north
	{-15.80, -50.00}, // 7 DF, GO, TO, MT, MS, RO
	{-26.00, -50.50}, // 8 PR, SC
	{-30.00, -52.50}, // 9 RS
}

const (
	sameCityKM   = 0
	sameRegionKM = 120
	minBilledKG  = 0.3
)

// distanceKM estimates travel distance between two valid CEPs from their prefixes.
func distanceKM(origin, dest string) float64 {
	if origin[:3] == dest[:3] {
		return sameCityKM
	}
	if origin[0] == dest[0] {
		return sameRegionKM
	}
	a := regionCentroids[origin[0]-'0']
	b := regionCentroids[dest[0]-'0']
	return haversine(a[0], a[1], b[0], b[1])
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const earthKM = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthKM * math.Asin(math.Sqrt(h))
}

// estimate prices a service locally from distance and weight. Unknown services
// cannot be estimated.
func estimate(service, origin, dest string, weightG int, reason string, expiresAt time.Time) (Option, error) {
	p, ok := profiles[service]
	if !ok {
		return Option{}, fmt.Errorf("%w: %s", errUnknownService, service)
	}
	km := distanceKM(origin, dest)
	kg := math.Max(float64(weightG)/1000, minBilledKG)

	distanceFactor := decimal.NewFromFloat(1 + km/2000)
	price := p.base.Add(p.perKG.Mul(decimal.NewFromFloat(kg))).Mul(distanceFactor).Round(2)
	days := p.baseDays + int(math.Ceil(km/p.kmPerDay))

	return Option{
		ServiceCode: service,
		ServiceName: p.name,
		Price:       price,
		ETADays:     days,
		IsEstimate:  true,
		Reason:      reason,
		ExpiresAt:   expiresAt,
	}, nil
}

// FallbackOptions is the fixed generic pair returned when nothing else could be priced.
func FallbackOptions(expiresAt time.Time) []Option {
	const reason = "carrier unavailable, generic estimate"
	return []Option{
		{ServiceCode: ServicePAC, ServiceName: "PAC", Price: decimal.RequireFromString("35.00"), ETADays: 12, IsEstimate: true, Reason: reason, ExpiresAt: expiresAt},
		{ServiceCode: ServiceSEDEX, ServiceName: "SEDEX", Price: decimal.RequireFromString("60.00"), ETADays: 6, IsEstimate: true, Reason: reason, ExpiresAt: expiresAt},
	}
}
