package storage

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/your-org/faceads/internal/models"
)

// SeedPurchaseCount is the number of synthetic purchases given to a new member.
const SeedPurchaseCount = 5

var DefaultCatalog = []string{
	"milk",
	"coffee beans",
	"bread",
	"apples",
	"laundry detergent",
	"toothpaste",
	"instant noodles",
	"eggs",
}

// Seeder produces mock purchase history. Each purchase i (0-based) lies
// (i+1) * U[1h, 24h] before the member's first sighting.
type Seeder struct {
	catalog []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeder returns a Seeder over DefaultCatalog. A nil rng uses a randomly
// seeded source.
func NewSeeder(rng *rand.Rand) *Seeder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Seeder{catalog: DefaultCatalog, rng: rng}
}

func (s *Seeder) Purchases(memberID string, now time.Time) []models.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Purchase, 0, SeedPurchaseCount)
	for i := 0; i < SeedPurchaseCount; i++ {
		gap := time.Duration(3600+s.rng.IntN(86400-3600+1)) * time.Second
		out = append(out, models.Purchase{
			MemberID:  memberID,
			Item:      s.catalog[s.rng.IntN(len(s.catalog))],
			Amount:    1 + s.rng.IntN(3),
			Timestamp: now.Add(-time.Duration(i+1) * gap),
		})
	}
	return out
}
