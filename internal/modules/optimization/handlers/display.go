package handlers

import (
	"fmt"
	"sort"

	"github.com/aristath/frontier/internal/modules/optimization"
)

// DisplayThreshold hides allocations at or below 0.1%.
const DisplayThreshold = 0.001

// Allocation is one displayed weight.
type Allocation struct {
	Asset   string  `json:"asset"`
	Weight  float64 `json:"weight"`
	Percent string  `json:"percent"`
}

// DisplayView is a presentation of a successful result: significant
// weights sorted largest first and formatted summary figures. The raw
// result is always returned next to it.
type DisplayView struct {
	Allocations []Allocation `json:"allocations"`
	TopAsset    string       `json:"top_asset"`
	TopWeight   float64      `json:"top_weight"`
	Risk        string       `json:"risk"`
	Return      string       `json:"return"`
}

// NewDisplayView builds the view, or nil when res is a failure.
func NewDisplayView(res optimization.Result) *DisplayView {
	if !res.Success {
		return nil
	}
	allocations := make([]Allocation, 0, len(res.Weights))
	for asset, w := range res.Weights {
		if w <= DisplayThreshold {
			continue
		}
		allocations = append(allocations, Allocation{Asset: asset, Weight: w, Percent: percent(w)})
	}
	sort.Slice(allocations, func(i, j int) bool {
		if allocations[i].Weight != allocations[j].Weight {
			return allocations[i].Weight > allocations[j].Weight
		}
		return allocations[i].Asset < allocations[j].Asset
	})

	view := &DisplayView{
		Allocations: allocations,
		Risk:        percent(res.Risk),
		Return:      percent(res.AchievedReturn),
	}
	if len(allocations) > 0 {
		view.TopAsset = allocations[0].Asset
		view.TopWeight = allocations[0].Weight
	}
	return view
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
