package scoring

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/noah-isme/gema-grader/internal/models"
)

// Score weights and caps.
const (
	MaxCorrectness = 6.0
	MaxEfficiency  = 3.0
	MaxCodeQuality = 1.0

	publicWeight = 0.3
	hiddenWeight = 0.7

	minRuntimeFactor  = 0.6
	lowPassRateFactor = 0.5
	lowPassRate       = 0.8
)

var complexityPoints = map[Complexity]float64{
	ComplexityConstant:     3.0,
	ComplexityLogarithmic:  2.7,
	ComplexityLinear:       2.2,
	ComplexityLinearithmic: 1.6,
	ComplexityQuadratic:    0.8,
	ComplexityCubic:        0.3,
	ComplexityExponential:  0.1,
	ComplexityFactorial:    0.0,
}

const unknownComplexityPoints = 0.5

// Points returns the efficiency band for the complexity class.
func (c Complexity) Points() float64 {
	if points, ok := complexityPoints[c]; ok {
		return points
	}
	return unknownComplexityPoints
}

// PassRate returns the fraction of passing results, 0 for an empty tier.
func PassRate(results []models.TestResult) float64 {
	if len(results) == 0 {
		return 0
	}
	return float64(countPassed(results)) / float64(len(results))
}

// Correctness weights public tests at 30% and hidden tests at 70% of six points.
func Correctness(public, hidden []models.TestResult) float64 {
	return MaxCorrectness * (publicWeight*PassRate(public) + hiddenWeight*PassRate(hidden))
}

// CorrectnessFeedback summarises pass counts per tier.
func CorrectnessFeedback(public, hidden []models.TestResult) string {
	return fmt.Sprintf("Passed %d/%d public tests and %d/%d hidden tests",
		countPassed(public), len(public), countPassed(hidden), len(hidden))
}

// EfficiencyScore is the efficiency component with the factors that produced it.
type EfficiencyScore struct {
	Score         float64
	Points        float64
	RuntimeFactor float64
}

// Efficiency scales the complexity band by a runtime factor. Without a baseline the
// factor is 1.0; with one it is baseline/avg clamped to [0.6, 1.0]. A pass rate
// below 80% caps the factor at 0.5.
func Efficiency(complexity Complexity, results []models.TestResult, baselineMs *float64) EfficiencyScore {
	points := complexity.Points()
	factor := 1.0

	if baselineMs != nil && *baselineMs > 0 && len(results) > 0 {
		if avg := AverageExecutionTime(results); avg > 0 {
			factor = math.Min(1.0, math.Max(minRuntimeFactor, *baselineMs/avg))
		}
	}

	if len(results) > 0 && PassRate(results) < lowPassRate {
		factor = math.Min(factor, lowPassRateFactor)
	}

	return EfficiencyScore{
		Score:         points * factor,
		Points:        points,
		RuntimeFactor: factor,
	}
}

// EfficiencyFeedback describes the detected complexity.
func EfficiencyFeedback(complexity Complexity) string {
	return fmt.Sprintf("Complexity: %s. Efficiency score based on algorithm analysis.", complexity)
}

// AverageExecutionTime returns the mean execution time in milliseconds.
func AverageExecutionTime(results []models.TestResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var total float64
	for _, result := range results {
		total += result.ExecutionTime
	}
	return total / float64(len(results))
}

// QualityScore is the code-quality component and one message per penalty.
type QualityScore struct {
	Score    float64
	Feedback []string
}

// FeedbackText joins the messages into a single line.
func (q QualityScore) FeedbackText() string {
	return strings.Join(q.Feedback, "; ")
}

// QualityFeedbackOK is reported when no penalty applies.
const QualityFeedbackOK = "Code quality looks good"

var (
	functionDefinition = regexp.MustCompile(`(?:def|function)\s+(\w+)`)
	definitionCall     = regexp.MustCompile(`(?:def|function)\s+(\w+)\s*\(`)
	callSite           = regexp.MustCompile(`\b(\w+)\s*\(`)
)

// CodeQuality applies pattern-based penalties to a starting score of 1.0.
func CodeQuality(code string, language models.Language) QualityScore {
	score := MaxCodeQuality
	feedback := make([]string, 0, 4)
	lower := strings.ToLower(code)

	unboundedLoop := (language == models.LanguagePython && strings.Contains(lower, "while true:")) ||
		(language == models.LanguageJavaScript && strings.Contains(lower, "while(true)"))
	if unboundedLoop && !strings.Contains(lower, "break") {
		score -= 0.3
		feedback = append(feedback, "Potential infinite loop detected")
	}

	if strings.Contains(lower, "while") && strings.Contains(lower, "time.sleep") && !strings.Contains(lower, "break") {
		score -= 0.2
		feedback = append(feedback, "Potential busy-wait pattern detected")
	}

	if countNonBlankLines(code) < 3 {
		score -= 0.2
		feedback = append(feedback, "Code seems too short")
	}

	if strings.Contains(lower, "var1") || strings.Contains(lower, "temp") || strings.Contains(lower, "x =") {
		score -= 0.1
		feedback = append(feedback, "Consider using more descriptive variable names")
	}

	for _, name := range uncalledFunctions(code) {
		score -= 0.1
		feedback = append(feedback, fmt.Sprintf("Function %s is defined but not called", name))
	}

	score = math.Max(0, math.Min(MaxCodeQuality, score))
	if len(feedback) == 0 {
		feedback = append(feedback, QualityFeedbackOK)
	}

	return QualityScore{Score: score, Feedback: feedback}
}

// Total sums the three components into a 0-10 score.
func Total(correctness, efficiency, quality float64) float64 {
	return correctness + efficiency + quality
}

// Grade converts a 0-10 total into the persisted 0-100 grade.
func Grade(total float64) float64 {
	return total * 10
}

func countPassed(results []models.TestResult) int {
	passed := 0
	for _, result := range results {
		if result.Passed {
			passed++
		}
	}
	return passed
}

func countNonBlankLines(code string) int {
	count := 0
	for _, line := range strings.Split(code, "\n") {
		if strings.TrimSpace(line) != "" {
			count++
		}
	}
	return count
}

// uncalledFunctions returns defined function names whose only "name(" occurrences
// are their own definitions.
func uncalledFunctions(code string) []string {
	if !strings.Contains(code, "def ") && !strings.Contains(code, "function ") {
		return nil
	}

	calls := countCaptures(callSite, code)
	definitions := countCaptures(definitionCall, code)

	seen := make(map[string]struct{})
	var names []string
	for _, match := range functionDefinition.FindAllStringSubmatch(code, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		if calls[name]-definitions[name] <= 0 {
			names = append(names, name)
		}
	}
	return names
}

func countCaptures(pattern *regexp.Regexp, code string) map[string]int {
	counts := make(map[string]int)
	for _, match := range pattern.FindAllStringSubmatch(code, -1) {
		counts[match[1]]++
	}
	return counts
}
