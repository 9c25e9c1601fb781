package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

func outcomes(passed ...bool) []models.TestResult {
	results := make([]models.TestResult, 0, len(passed))
	for i, ok := range passed {
		results = append(results, models.TestResult{Index: i, Passed: ok, ExecutionTime: 100})
	}
	return results
}

func TestCorrectnessWeighting(t *testing.T) {
	require.InDelta(t, 1.8, Correctness(outcomes(true, true), nil), 1e-9)
	require.InDelta(t, 4.2, Correctness(nil, outcomes(true)), 1e-9)
	require.InDelta(t, 4.05, Correctness(outcomes(true, false), outcomes(true, true, true, false)), 1e-9)
	require.InDelta(t, 6.0, Correctness(outcomes(true), outcomes(true)), 1e-9)
	require.Zero(t, Correctness(nil, nil))
}

func TestCorrectnessFeedback(t *testing.T) {
	require.Equal(t, "Passed 1/2 public tests and 0/1 hidden tests",
		CorrectnessFeedback(outcomes(true, false), outcomes(false)))
}

func TestEfficiencyBands(t *testing.T) {
	cases := map[Complexity]float64{
		ComplexityConstant:     3.0,
		ComplexityLogarithmic:  2.7,
		ComplexityLinear:       2.2,
		ComplexityLinearithmic: 1.6,
		ComplexityQuadratic:    0.8,
		ComplexityCubic:        0.3,
		ComplexityExponential:  0.1,
		ComplexityFactorial:    0.0,
		Complexity("O(?)"):     0.5,
	}

	for complexity, expected := range cases {
		score := Efficiency(complexity, outcomes(true, true), nil)
		require.InDelta(t, expected, score.Score, 1e-9, string(complexity))
		require.Equal(t, 1.0, score.RuntimeFactor)
	}
}

func TestEfficiencyCappedWhenPassRateLow(t *testing.T) {
	score := Efficiency(ComplexityConstant, outcomes(true, false, false, true), nil)
	require.Equal(t, 0.5, score.RuntimeFactor)
	require.LessOrEqual(t, score.Score, 1.5)

	score = Efficiency(ComplexityConstant, outcomes(true, true, true, true, false), nil)
	require.Equal(t, 1.0, score.RuntimeFactor)
}

func TestEfficiencyWithBaseline(t *testing.T) {
	results := []models.TestResult{{Passed: true, ExecutionTime: 200}, {Passed: true, ExecutionTime: 200}}

	slow := 100.0
	score := Efficiency(ComplexityConstant, results, &slow)
	require.InDelta(t, 0.6, score.RuntimeFactor, 1e-9)
	require.InDelta(t, 1.8, score.Score, 1e-9)

	fast := 300.0
	score = Efficiency(ComplexityConstant, results, &fast)
	require.Equal(t, 1.0, score.RuntimeFactor)
}

func TestEfficiencyWithoutResultsIsUncapped(t *testing.T) {
	score := Efficiency(ComplexityLinear, nil, nil)
	require.InDelta(t, 2.2, score.Score, 1e-9)
}

func TestCodeQuality(t *testing.T) {
	cases := map[string]struct {
		code     string
		language models.Language
		score    float64
		feedback []string
	}{
		"clean python": {
			code:     "def add(a, b):\n    return a + b\n\nprint(add(1, 2))\n",
			language: models.LanguagePython,
			score:    1.0,
			feedback: []string{QualityFeedbackOK},
		},
		"python infinite loop": {
			code:     "while True:\n    print(1)\n    print(2)\n",
			language: models.LanguagePython,
			score:    0.7,
			feedback: []string{"Potential infinite loop detected"},
		},
		"javascript infinite loop": {
			code:     "let n = 0;\nwhile(true) {\n  n++;\n}\n",
			language: models.LanguageJavaScript,
			score:    0.7,
			feedback: []string{"Potential infinite loop detected"},
		},
		"loop with break": {
			code:     "while True:\n    print(1)\n    break\n",
			language: models.LanguagePython,
			score:    1.0,
			feedback: []string{QualityFeedbackOK},
		},
		"too short": {
			code:     "print(1)",
			language: models.LanguagePython,
			score:    0.8,
			feedback: []string{"Code seems too short"},
		},
		"uncalled function": {
			code:     "def helper():\n    return 1\nprint(2)\n",
			language: models.LanguagePython,
			score:    0.9,
			feedback: []string{"Function helper is defined but not called"},
		},
		"mixed case temp name": {
			code:     "Temp = int(input())\nprint(Temp)\nprint(Temp)\n",
			language: models.LanguagePython,
			score:    0.9,
			feedback: []string{"Consider using more descriptive variable names"},
		},
		"upper case x assignment": {
			code:     "X = 5\nY = X * 2\nprint(Y)\n",
			language: models.LanguagePython,
			score:    0.9,
			feedback: []string{"Consider using more descriptive variable names"},
		},
		"call with space before parenthesis": {
			code:     "function total(xs) {\n  return xs.length;\n}\nconsole.log(total ([1, 2]));\n",
			language: models.LanguageJavaScript,
			score:    1.0,
			feedback: []string{QualityFeedbackOK},
		},
		"busy wait and naming": {
			code:     "import time\nwhile True:\n    temp = 1\n    time.sleep(1)\n",
			language: models.LanguagePython,
			score:    0.4,
			feedback: []string{
				"Potential infinite loop detected",
				"Potential busy-wait pattern detected",
				"Consider using more descriptive variable names",
			},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			quality := CodeQuality(tc.code, tc.language)
			require.InDelta(t, tc.score, quality.Score, 1e-9)
			require.Equal(t, tc.feedback, quality.Feedback)
		})
	}
}

func TestCodeQualityClampedAtZero(t *testing.T) {
	code := "while True: temp = time.sleep(1)\ndef a(): pass; def b(): pass; def c(): pass"

	quality := CodeQuality(code, models.LanguagePython)
	require.Zero(t, quality.Score)
	require.Len(t, quality.Feedback, 7)
}

func TestQualityFeedbackText(t *testing.T) {
	quality := QualityScore{Feedback: []string{"a", "b"}}
	require.Equal(t, "a; b", quality.FeedbackText())
}

func TestTotalAndGrade(t *testing.T) {
	total := Total(6, 3, 1)
	require.InDelta(t, 10.0, total, 1e-9)
	require.InDelta(t, 100.0, Grade(total), 1e-9)
}
