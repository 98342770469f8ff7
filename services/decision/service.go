package decision

import (
	"math/rand"
	"sync"
	"time"

	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/models"
)

// Rand is the slice of math/rand the target picker needs, injectable so
// weighted selection is deterministic under test.
type Rand interface {
	Intn(n int) int
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// NewRand returns a time-seeded Rand safe for concurrent use.
func NewRand() Rand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

type Service struct {
	rng Rand
}

func NewService(rng Rand) *Service {
	if rng == nil {
		rng = NewRand()
	}
	return &Service{rng: rng}
}

// PickTarget resolves the destination URL for an allowed click. Weighted
// sets draw by cumulative weight; entries with non-positive weight are
// skipped. The plain target URL is the fallback when no weighted set is
// configured.
func (s *Service) PickTarget(link *models.CloakedLink) (string, error) {
	if len(link.TargetURLs) > 0 {
		total := 0
		for _, t := range link.TargetURLs {
			if t.Weight > 0 {
				total += t.Weight
			}
		}
		if total > 0 {
			draw := s.rng.Intn(total)
			for _, t := range link.TargetURLs {
				if t.Weight <= 0 {
					continue
				}
				draw -= t.Weight
				if draw < 0 {
					return t.URL, nil
				}
			}
		}
	}
	if link.TargetURL != "" {
		return link.TargetURL, nil
	}
	return "", er.ErrNoDestination
}

// SafeTarget resolves the decoy destination for safe-paged traffic. A link
// without a decoy URL falls back to blocking, signalled by the empty string.
func (s *Service) SafeTarget(link *models.CloakedLink) string {
	return link.SafeURL
}
