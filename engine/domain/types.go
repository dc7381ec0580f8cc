// Package domain defines the core Q&A types and the validation gate used at
// the query pipeline entry point.
package domain

// Payload keys stored alongside each indexed question vector.
const (
	PayloadAnswer = "answer"
)

// QAPair is one curated question with its pre-written answer.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Valid reports whether both sides carry text.
func (p QAPair) Valid() bool {
	return p.Question != "" && p.Answer != ""
}
