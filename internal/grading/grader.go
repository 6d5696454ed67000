// Package grading scores a submitted attempt against a quiz's answer key.
// Grading is pure: the same questions and answers always give the same
// result, and malformed key data degrades to an incorrect verdict plus an
// InputIssue instead of failing the attempt.
package grading

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// EssayPolicy decides how essay and reflection questions are scored.
type EssayPolicy string

const (
	// EssayExclude marks free-text questions ungraded and leaves them out
	// of the denominator.
	EssayExclude EssayPolicy = "exclude"
	// EssayCreditNonEmpty counts free-text questions and credits any
	// non-blank response.
	EssayCreditNonEmpty EssayPolicy = "credit_nonempty"
)

// ParseEssayPolicy maps a config value to an EssayPolicy, defaulting to
// EssayExclude for anything unrecognised.
func ParseEssayPolicy(v string) EssayPolicy {
	if EssayPolicy(strings.ToLower(strings.TrimSpace(v))) == EssayCreditNonEmpty {
		return EssayCreditNonEmpty
	}
	return EssayExclude
}

// Verdict is the per-question outcome.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictUngraded  Verdict = "ungraded"
)

// QuestionResult is the verdict for one question index.
type QuestionResult struct {
	Index   int                `json:"index"`
	Type    model.QuestionType `json:"type"`
	Verdict Verdict            `json:"verdict"`
}

// InputIssue describes malformed answer-key data found while grading.
type InputIssue struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (i InputIssue) Error() string {
	return fmt.Sprintf("question %d: %s", i.Index, i.Reason)
}

// Result is the outcome of grading one attempt.
type Result struct {
	Score          int              `json:"score"`
	TotalQuestions int              `json:"total_questions"`
	Percentage     float64          `json:"percentage"`
	Questions      []QuestionResult `json:"questions"`
	Issues         []InputIssue     `json:"issues,omitempty"`
}

// Grader applies the per-type comparison rules.
type Grader struct {
	essay EssayPolicy
}

// New creates a Grader with the given essay policy.
func New(essay EssayPolicy) *Grader {
	if essay != EssayCreditNonEmpty {
		essay = EssayExclude
	}
	return &Grader{essay: essay}
}

// EssayPolicy returns the policy the grader was built with.
func (g *Grader) EssayPolicy() EssayPolicy {
	return g.essay
}

// Grade scores answers against questions. Answers are keyed by the
// question's index in the slice; a missing answer is a miss.
func (g *Grader) Grade(questions []model.Question, answers map[int]string) Result {
	res := Result{Questions: make([]QuestionResult, 0, len(questions))}

	for i, q := range questions {
		given, ok := answers[i]
		if !ok {
			given = ""
		}

		verdict, issue := g.judge(q, given)
		if issue != "" {
			res.Issues = append(res.Issues, InputIssue{Index: i, Reason: issue})
		}

		res.Questions = append(res.Questions, QuestionResult{Index: i, Type: q.QuestionType, Verdict: verdict})
		if verdict == VerdictUngraded {
			continue
		}
		res.TotalQuestions++
		if verdict == VerdictCorrect {
			res.Score++
		}
	}

	res.Percentage = Percentage(res.Score, res.TotalQuestions)
	return res
}

func (g *Grader) judge(q model.Question, given string) (Verdict, string) {
	switch q.QuestionType {
	case model.QuestionTypeEssay, model.QuestionTypeReflection:
		if g.essay == EssayExclude {
			return VerdictUngraded, ""
		}
		return boolVerdict(normalize(given) != ""), ""

	case model.QuestionTypeMultipleChoice:
		if len(q.Choices) == 0 {
			return VerdictIncorrect, "multiple_choice question has no choices"
		}
		return exactMatch(q.Answer, given)

	case model.QuestionTypeIdentification:
		return exactMatch(q.Answer, given)

	case model.QuestionTypeTrueOrFalse:
		key := normalizeBool(q.Answer)
		if key != "true" && key != "false" {
			return VerdictIncorrect, "true_or_false key is neither true nor false"
		}
		return boolVerdict(normalizeBool(given) == key), ""

	case model.QuestionTypeEnumeration:
		terms := splitTerms(q.Answer)
		if len(terms) == 0 {
			return VerdictIncorrect, "enumeration key has no terms"
		}
		got := normalize(given)
		if got == "" {
			return VerdictIncorrect, ""
		}
		for _, t := range terms {
			if t == got {
				return VerdictCorrect, ""
			}
		}
		return VerdictIncorrect, ""

	default:
		return VerdictIncorrect, fmt.Sprintf("unknown question type %q", q.QuestionType)
	}
}

func exactMatch(key, given string) (Verdict, string) {
	k := normalize(key)
	if k == "" {
		return VerdictIncorrect, "answer key is empty"
	}
	return boolVerdict(normalize(given) == k), ""
}

func boolVerdict(ok bool) Verdict {
	if ok {
		return VerdictCorrect
	}
	return VerdictIncorrect
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// normalizeBool maps t/f shorthands onto the literal "true" and "false".
func normalizeBool(s string) string {
	switch v := normalize(s); v {
	case "true", "t":
		return "true"
	case "false", "f":
		return "false"
	default:
		return v
	}
}

func splitTerms(key string) []string {
	parts := strings.Split(key, ",")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := normalize(p); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Percentage returns score/total*100 rounded half away from zero to one
// decimal, clamped to [0, 100]. It is 0 when total is 0.
func Percentage(score, total int) float64 {
	if total <= 0 || score <= 0 {
		return 0
	}
	if score > total {
		score = total
	}
	pct := decimal.NewFromInt(int64(score)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(1)
	f, _ := pct.Float64()
	return f
}

// Round1 rounds v to one decimal place.
func Round1(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(1).Float64()
	return f
}
