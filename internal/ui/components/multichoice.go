package components

import (
	"fmt"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/study"
	"github.com/abhisek/studysync/internal/ui/theme"
)

// OptionLabel returns the letter shown next to option i.
func OptionLabel(i int) string {
	return string(rune('A' + i))
}

// QuestionCard renders a question with lettered options.
func QuestionCard(q study.Question, index, total int) string {
	var b strings.Builder
	b.WriteString(theme.Subtitle.Render(fmt.Sprintf("Question %d of %d · %s · %s", index+1, total, q.PartType, q.Difficulty)))
	b.WriteString("\n\n")
	b.WriteString(theme.Body.Bold(true).Render(q.Content))
	b.WriteString("\n\n")
	for i, opt := range q.Options {
		b.WriteString(theme.Option.Render(OptionLabel(i) + ")"))
		b.WriteString("  ")
		b.WriteString(theme.Body.Render(opt))
		b.WriteString("\n")
	}
	return theme.Card.Render(strings.TrimRight(b.String(), "\n"))
}

// ResolveChoice maps typed input to an option. A letter or a 1-based number
// selects by position; anything else must match an option exactly.
func ResolveChoice(input string, options []string) (string, bool) {
	in := strings.TrimSpace(input)
	if in == "" {
		return "", false
	}
	if len(in) == 1 {
		i := int(strings.ToUpper(in)[0] - 'A')
		if i >= 0 && i < len(options) {
			return options[i], true
		}
	}
	if n, err := strconv.Atoi(in); err == nil && n >= 1 && n <= len(options) {
		return options[n-1], true
	}
	for _, opt := range options {
		if opt == in {
			return opt, true
		}
	}
	return "", false
}

// Feedback renders the outcome of one answer.
func Feedback(sub session.Submission) string {
	var line string
	if sub.Correct {
		line = theme.Correct.Render("✓ Correct")
		if sub.ConsecutiveCorrect > 1 {
			line += theme.Subtitle.Render(fmt.Sprintf("  %d in a row", sub.ConsecutiveCorrect))
		}
	} else {
		line = theme.Incorrect.Render("✗ Incorrect") + theme.Body.Render("  answer: "+sub.CorrectAnswer)
	}
	if sub.Buffered {
		line += theme.Pending.Render("  (saved offline)")
	}
	if sub.Explanation != "" {
		line += "\n" + theme.Hint.Render(sub.Explanation)
	}
	return line
}

// ResultCard renders a finished session.
func ResultCard(res session.StudyResult, width int) string {
	rows := []string{
		theme.Title.Render("Session complete"),
		"",
		row("Score", fmt.Sprintf("%.0f%%", res.Score*100)),
		row("Answered", fmt.Sprintf("%d of %d", len(res.Answers), res.Session.TotalQuestions)),
		row("Accuracy", fmt.Sprintf("%.0f%%", res.Accuracy*100)),
		row("Time", res.TotalTime.Round(1e9).String()),
		"",
		NewProgressBar("", res.Score, true, width-6).View(),
	}
	if res.Buffered {
		rows = append(rows, "", theme.Pending.Render("Saved offline; run `studysync sync` when connected."))
	}
	return theme.Card.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func row(label, value string) string {
	return theme.Label.Render(label) + theme.Value.Render(value)
}
