package models

// QuizQuestion is one multiple-choice question. Answer indexes Options.
type QuizQuestion struct {
	Text    string   `json:"question"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
}

// Quiz is a generated test on a single topic.
type Quiz struct {
	Topic     string         `json:"topic"`
	Questions []QuizQuestion `json:"questions"`
}

// Valid reports whether the quiz has at least one well-formed question.
func (q Quiz) Valid() bool {
	if len(q.Questions) == 0 {
		return false
	}
	for _, qq := range q.Questions {
		if qq.Text == "" || len(qq.Options) < 2 {
			return false
		}
		if qq.Answer < 0 || qq.Answer >= len(qq.Options) {
			return false
		}
	}
	return true
}

// AssessmentTier maps a minimum score percentage to a verdict label.
type AssessmentTier struct {
	MinPercent int    `json:"min_percent" yaml:"min_percent"`
	Label      string `json:"label" yaml:"label"`
}
