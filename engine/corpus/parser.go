// Package corpus turns a tabular Q&A source into ordered question/answer pairs.
package corpus

import (
	"strings"

	"github.com/WessleyAI/qna-rag/engine/domain"
	"github.com/WessleyAI/qna-rag/pkg/fn"
)

// Line markers recognised in corpus cells.
const (
	QuestionMarker = "Q."
	AnswerMarker   = "A."
)

// Flatten joins a grid into one sequence of trimmed cells, row-major.
func Flatten(grid [][]string) []string {
	return fn.FlatMap(grid, func(row []string) []string {
		return fn.Map(row, strings.TrimSpace)
	})
}

// MarkerLines keeps only cells that start with a question or answer marker.
func MarkerLines(cells []string) []string {
	return fn.Filter(cells, func(s string) bool {
		return strings.HasPrefix(s, QuestionMarker) || strings.HasPrefix(s, AnswerMarker)
	})
}

// ParsePairs extracts QAPairs from a grid of cells. A pair is formed only
// from a question line immediately followed by an answer line in the
// filtered marker sequence; orphaned or misordered markers are skipped.
func ParsePairs(grid [][]string) []domain.QAPair {
	lines := MarkerLines(Flatten(grid))

	var pairs []domain.QAPair
	for i := 0; i < len(lines)-1; i++ {
		q, a := lines[i], lines[i+1]
		if !strings.HasPrefix(q, QuestionMarker) || !strings.HasPrefix(a, AnswerMarker) {
			continue
		}
		pair := domain.QAPair{
			Question: stripMarker(q, QuestionMarker),
			Answer:   stripMarker(a, AnswerMarker),
		}
		i++ // consumed the answer line
		if !pair.Valid() {
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs
}

func stripMarker(line, marker string) string {
	return strings.TrimSpace(strings.TrimPrefix(line, marker))
}
