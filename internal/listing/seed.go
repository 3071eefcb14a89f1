package listing

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/geofeed/geofeed/internal/geo"
)

var (
	demoTitles = []string{
		"Sofa", "Desk lamp", "City bike", "Winter tyres", "Bookshelf",
		"Coffee machine", "Kids scooter", "Dining table", "Guitar", "Office chair",
		"Snowboard", "Baby stroller", "Microwave", "Camping tent", "Road bike",
	}
	demoCategories = []string{"furniture", "electronics", "sport", "kids", "auto"}
)

// DemoListings generates n listings scattered within radiusKm of center.
// The same seed always yields the same listings, relative to now.
func DemoListings(n int, center geo.Coordinates, radiusKm float64, seed uint64, now time.Time) []Summary {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	out := make([]Summary, 0, n)
	for i := 0; i < n; i++ {
		// sqrt keeps the density uniform over the disc instead of clustering at the center.
		dist := radiusKm * math.Sqrt(rng.Float64())
		loc := geo.Offset(center, rng.Float64()*360, dist)
		category := demoCategories[rng.IntN(len(demoCategories))]
		title := demoTitles[rng.IntN(len(demoTitles))]

		out = append(out, Summary{
			ID:         fmt.Sprintf("demo_%04d", i),
			Title:      title,
			Price:      math.Round(rng.Float64()*50000) / 100,
			Photos:     []string{fmt.Sprintf("https://picsum.photos/seed/%d/640/480", rng.IntN(1000))},
			CreatedAt:  now.Add(-time.Duration(rng.IntN(30*24)) * time.Hour),
			CategoryID: &category,
			Location:   &loc,
		})
	}
	return out
}
