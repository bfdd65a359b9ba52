package snapshot

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/orneryd/edgesample/pkg/sample"
)

// Summary describes the weight distribution of a sample.
type Summary struct {
	Edges       int
	Nodes       int
	TotalWeight float64
	MeanWeight  float64
	StdDev      float64
	MaxWeight   float64
}

// Summarize computes a Summary over entries. An empty sample yields zeros.
func Summarize(entries []sample.Entry) Summary {
	if len(entries) == 0 {
		return Summary{}
	}

	weights := make([]float64, len(entries))
	nodes := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		weights[i] = e.Weight
		nodes[e.Key.Source] = struct{}{}
		nodes[e.Key.Target] = struct{}{}
	}

	mean, std := stat.MeanStdDev(weights, nil)
	if len(weights) == 1 {
		std = 0
	}
	return Summary{
		Edges:       len(entries),
		Nodes:       len(nodes),
		TotalWeight: floats.Sum(weights),
		MeanWeight:  mean,
		StdDev:      std,
		MaxWeight:   floats.Max(weights),
	}
}
