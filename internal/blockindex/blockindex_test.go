package blockindex

import (
	"testing"

	"github.com/masp-indexer/core/pkg/types"
)

func TestBuildContainsIngestedHeightsAndSerializeRoundTrips(t *testing.T) {
	heights := []types.Height{3, 7, 7, 12}

	filter, err := Build(heights)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	for _, h := range []types.Height{3, 7, 12} {
		if !Contains(filter, h) {
			t.Fatalf("filter does not contain ingested height %d", h)
		}
	}

	b := Serialize(filter)
	decoded, err := Deserialize(b)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	for _, h := range []types.Height{3, 7, 12} {
		if !Contains(decoded, h) {
			t.Fatalf("deserialized filter does not contain height %d", h)
		}
	}
}
