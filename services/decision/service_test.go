package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	er "github.com/linkshield/cloaker/internal/errors"
	"github.com/linkshield/cloaker/internal/models"
)

// seqRand replays a fixed sequence of draws.
type seqRand struct {
	draws []int
	pos   int
}

func (r *seqRand) Intn(n int) int {
	draw := r.draws[r.pos%len(r.draws)]
	r.pos++
	return draw % n
}

func TestPickTarget_WeightedDraw(t *testing.T) {
	link := &models.CloakedLink{
		TargetURLs: models.WeightedTargets{
			{URL: "https://a.example.com", Weight: 1},
			{URL: "https://b.example.com", Weight: 3},
		},
	}

	// draws map onto cumulative buckets: [0) -> a, [1,4) -> b
	cases := map[int]string{
		0: "https://a.example.com",
		1: "https://b.example.com",
		2: "https://b.example.com",
		3: "https://b.example.com",
	}
	for draw, want := range cases {
		svc := NewService(&seqRand{draws: []int{draw}})
		got, err := svc.PickTarget(link)
		require.NoError(t, err)
		assert.Equal(t, want, got, "draw %d", draw)
	}
}

func TestPickTarget_SkipsNonPositiveWeights(t *testing.T) {
	link := &models.CloakedLink{
		TargetURLs: models.WeightedTargets{
			{URL: "https://dead.example.com", Weight: 0},
			{URL: "https://neg.example.com", Weight: -5},
			{URL: "https://live.example.com", Weight: 2},
		},
	}

	for draw := 0; draw < 2; draw++ {
		svc := NewService(&seqRand{draws: []int{draw}})
		got, err := svc.PickTarget(link)
		require.NoError(t, err)
		assert.Equal(t, "https://live.example.com", got)
	}
}

func TestPickTarget_FallsBackToTargetURL(t *testing.T) {
	svc := NewService(nil)

	link := &models.CloakedLink{TargetURL: "https://single.example.com"}
	got, err := svc.PickTarget(link)
	require.NoError(t, err)
	assert.Equal(t, "https://single.example.com", got)

	// a weighted set with no usable weight also falls through
	link = &models.CloakedLink{
		TargetURL:  "https://single.example.com",
		TargetURLs: models.WeightedTargets{{URL: "https://x.example.com", Weight: 0}},
	}
	got, err = svc.PickTarget(link)
	require.NoError(t, err)
	assert.Equal(t, "https://single.example.com", got)
}

func TestPickTarget_NoDestination(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.PickTarget(&models.CloakedLink{})
	assert.ErrorIs(t, err, er.ErrNoDestination)
}

func TestPickTarget_DistributionRoughlyMatchesWeights(t *testing.T) {
	link := &models.CloakedLink{
		TargetURLs: models.WeightedTargets{
			{URL: "a", Weight: 1},
			{URL: "b", Weight: 3},
		},
	}
	// cycle through every bucket, expect an exact 1:3 split
	svc := NewService(&seqRand{draws: []int{0, 1, 2, 3}})
	counts := map[string]int{}
	for i := 0; i < 400; i++ {
		url, err := svc.PickTarget(link)
		require.NoError(t, err)
		counts[url]++
	}
	assert.Equal(t, 100, counts["a"])
	assert.Equal(t, 300, counts["b"])
}

func TestSafeTarget(t *testing.T) {
	svc := NewService(nil)
	assert.Equal(t, "https://decoy.example.com", svc.SafeTarget(&models.CloakedLink{SafeURL: "https://decoy.example.com"}))
	assert.Equal(t, "", svc.SafeTarget(&models.CloakedLink{}))
}
