package scoring

import (
	"math"
	"sort"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Complexity is a coarse asymptotic class label.
type Complexity string

const (
	ComplexityConstant     Complexity = "O(1)"
	ComplexityLogarithmic  Complexity = "O(log n)"
	ComplexityLinear       Complexity = "O(n)"
	ComplexityLinearithmic Complexity = "O(n log n)"
	ComplexityQuadratic    Complexity = "O(n²)"
	ComplexityCubic        Complexity = "O(n³)"
	ComplexityExponential  Complexity = "O(2^n)"
	ComplexityFactorial    Complexity = "O(n!)"
)

// thresholdFactor widens every growth bound to absorb timing noise.
const thresholdFactor = 1.5

// EstimateComplexity classifies growth from the smallest and largest scaled samples.
// Results without a positive scale or a recorded execution time are ignored;
// fewer than two usable samples yield O(n).
func EstimateComplexity(results []models.TestResult) Complexity {
	samples := make([]models.TestResult, 0, len(results))
	for _, result := range results {
		if result.Scale > 0 && result.ExecutionTime > 0 {
			samples = append(samples, result)
		}
	}

	if len(samples) < 2 {
		return ComplexityLinear
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Scale < samples[j].Scale
	})

	first := samples[0]
	last := samples[len(samples)-1]

	timeRatio := last.ExecutionTime / first.ExecutionTime
	scaleRatio := float64(last.Scale) / float64(first.Scale)

	switch {
	case timeRatio < 1.2:
		return ComplexityConstant
	case timeRatio < math.Log(scaleRatio)*thresholdFactor:
		return ComplexityLogarithmic
	case timeRatio < scaleRatio*thresholdFactor:
		return ComplexityLinear
	case timeRatio < scaleRatio*math.Log(scaleRatio)*thresholdFactor:
		return ComplexityLinearithmic
	case timeRatio < scaleRatio*scaleRatio*thresholdFactor:
		return ComplexityQuadratic
	default:
		return ComplexityCubic
	}
}
