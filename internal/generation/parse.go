package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/scoring"
)

// maxParseInput bounds how much model output Parse will scan.
const maxParseInput = 64 << 10

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

type pick struct {
	Category  string   `json:"category" validate:"required,oneof=comfort algorithm cost easeOfSetup support overall"`
	Candidate string   `json:"candidate" validate:"required"`
	Score     *int     `json:"score" validate:"required,gte=0,lte=100"`
	Reasoning string   `json:"reasoning" validate:"required"`
	KeyPoints []string `json:"key_points" validate:"omitempty,dive,required"`
}

type response struct {
	Categories        []pick   `json:"categories" validate:"required,dive"`
	Overall           pick     `json:"overall" validate:"required"`
	Summary           string   `json:"summary" validate:"required"`
	FollowUpQuestions []string `json:"follow_up_questions"`
	Observations      []string `json:"observations"`
}

// Parse extracts a recommendation from untrusted model output. It tries each
// balanced {...} block in order and returns the first one that decodes into
// the response schema with no unknown fields, passes validation and names
// only candidates from cat. Anything else yields ErrMalformedResponse.
func Parse(text string, cat *catalog.Catalog) (scoring.ComprehensiveRecommendation, error) {
	if len(text) > maxParseInput {
		text = text[:maxParseInput]
	}

	var lastErr error
	for start := strings.IndexByte(text, '{'); start >= 0; {
		end := matchBrace(text, start)
		if end < 0 {
			break
		}
		rec, err := decodeBlock(text[start:end+1], cat)
		if err == nil {
			return rec, nil
		}
		lastErr = err

		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += 1 + next
	}

	if lastErr == nil {
		lastErr = errors.New("no JSON object found")
	}
	return scoring.ComprehensiveRecommendation{}, fmt.Errorf("%w: %w", ErrMalformedResponse, lastErr)
}

// matchBrace returns the index of the brace closing the one at start, skipping
// braces inside JSON strings, or -1 if the block never closes.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func decodeBlock(block string, cat *catalog.Catalog) (scoring.ComprehensiveRecommendation, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(block)))
	dec.DisallowUnknownFields()

	var resp response
	if err := dec.Decode(&resp); err != nil {
		return scoring.ComprehensiveRecommendation{}, fmt.Errorf("decoding: %w", err)
	}
	if err := getValidator().Struct(resp); err != nil {
		return scoring.ComprehensiveRecommendation{}, fmt.Errorf("validating: %w", err)
	}

	byLabel := make(map[scoring.Label]scoring.CategoryRecommendation, len(resp.Categories))
	for _, p := range resp.Categories {
		label := scoring.Label(p.Category)
		if label == scoring.OverallLabel {
			return scoring.ComprehensiveRecommendation{}, errors.New("overall listed as a category")
		}
		if _, dup := byLabel[label]; dup {
			return scoring.ComprehensiveRecommendation{}, fmt.Errorf("category %q listed twice", label)
		}
		cr, err := toRecommendation(label, p, cat)
		if err != nil {
			return scoring.ComprehensiveRecommendation{}, err
		}
		byLabel[label] = cr
	}

	rec := scoring.ComprehensiveRecommendation{
		Summary:           resp.Summary,
		FollowUpQuestions: nonNil(resp.FollowUpQuestions),
		Observations:      resp.Observations,
		Source:            scoring.SourceGenerated,
	}
	for _, l := range scoring.Labels {
		cr, ok := byLabel[l]
		if !ok {
			return scoring.ComprehensiveRecommendation{}, fmt.Errorf("category %q missing", l)
		}
		rec.Categories = append(rec.Categories, cr)
	}

	overall, err := toRecommendation(scoring.OverallLabel, resp.Overall, cat)
	if err != nil {
		return scoring.ComprehensiveRecommendation{}, err
	}
	rec.Overall = overall
	return rec, nil
}

func toRecommendation(label scoring.Label, p pick, cat *catalog.Catalog) (scoring.CategoryRecommendation, error) {
	cand, ok := cat.Lookup(p.Candidate)
	if !ok {
		return scoring.CategoryRecommendation{}, fmt.Errorf("unknown candidate %q", p.Candidate)
	}
	return scoring.CategoryRecommendation{
		CategoryLabel: label,
		Candidate:     cand.Name,
		Score:         *p.Score,
		Reasoning:     p.Reasoning,
		KeyPoints:     nonNil(p.KeyPoints),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
