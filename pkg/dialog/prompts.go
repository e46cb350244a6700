package dialog

import (
	"fmt"
	"strings"
)

// Prompt builders for each call class. Temperature is chosen by the
// caller in controller.go: low for validation and factual answers,
// higher for topic lists and quiz generation.

func topicListPrompt(n int) string {
	return fmt.Sprintf(
		"Перечисли %d интересных тем по истории России для школьника. "+
			"Выведи только нумерованный список, по одной теме в строке, без пояснений.", n)
}

func topicExplainPrompt(topic string) string {
	return fmt.Sprintf(
		"Расскажи кратко и увлекательно о теме «%s» из истории России. "+
			"Не более трёх абзацев, для школьника.", topic)
}

func quizPrompt(topic string, questions int) string {
	return fmt.Sprintf(
		"Составь тест из %d вопросов по теме «%s» из истории России. "+
			"Ответь строго одним JSON-объектом без пояснений, в формате: "+
			`{"topic":"...","questions":[{"question":"...","options":["...","...","...","..."],"answer":0}]}. `+
			"Поле answer — индекс правильного варианта, начиная с нуля.", questions, topic)
}

func validatePrompt(question string) string {
	return fmt.Sprintf(
		"Относится ли следующий вопрос к истории России? Ответь одним словом: да или нет.\n\nВопрос: %s", question)
}

func answerPrompt(question string) string {
	return fmt.Sprintf(
		"Ответь на вопрос по истории России кратко и точно, для школьника.\n\nВопрос: %s", question)
}

// parseTopicList extracts topic names from a numbered or bulleted list.
func parseTopicList(text string, max int) []string {
	var topics []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789")
		line = strings.TrimLeft(line, ".)- *•\t")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		topics = append(topics, line)
		if max > 0 && len(topics) >= max {
			break
		}
	}
	return topics
}

// extractJSON pulls the outermost JSON object out of a model reply
// that may wrap it in markdown fences or commentary.
func extractJSON(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// isAffirmative reports whether a validation reply means "yes".
func isAffirmative(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!,«»\"' ")
	return strings.HasPrefix(t, "да")
}
