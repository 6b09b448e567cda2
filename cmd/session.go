package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/session"
	"github.com/abhisek/studysync/internal/study"
	"github.com/abhisek/studysync/internal/ui/components"
	"github.com/abhisek/studysync/internal/ui/theme"
)

const cardWidth = 64

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start a practice session",
	Long: `Fetch questions for one TOEIC part and answer them in the terminal.

Answer with the option letter, its number or the full text. Enter "q" to end
the session early. Answers are kept locally when the shared store is down.`,
	RunE: runSession,
}

func init() {
	f := sessionCmd.Flags()
	f.StringP("user", "u", "", "User ID (required)")
	f.StringP("part", "p", "part5", "TOEIC part: part5, part6 or part7")
	f.IntP("count", "n", 10, "Number of questions")
	f.StringP("difficulty", "d", "", "Restrict to easy, medium or hard")
	_ = sessionCmd.MarkFlagRequired("user")
}

func runSession(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	partVal, _ := cmd.Flags().GetString("part")
	count, _ := cmd.Flags().GetInt("count")
	diffVal, _ := cmd.Flags().GetString("difficulty")

	part, err := study.ParsePartType(partVal)
	if err != nil {
		return err
	}
	difficulty, err := study.ParseDifficulty(diffVal)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	e, err := a.Sessions.Start(ctx, session.StartRequest{
		UserID:        user,
		PartType:      part,
		QuestionCount: count,
		Difficulty:    difficulty,
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	out := cmd.OutOrStdout()
	res, err := play(ctx, e, bufio.NewScanner(cmd.InOrStdin()), out)
	if err != nil {
		return err
	}
	lipgloss.Fprintln(out, components.ResultCard(res, cardWidth))
	return nil
}

// play asks every question in turn and finishes the session. Closed input
// or "q" ends it early.
func play(ctx context.Context, e *session.Engine, in *bufio.Scanner, out io.Writer) (session.StudyResult, error) {
	for {
		q, err := e.CurrentQuestion()
		if study.IsOutOfRange(err) {
			return e.Complete(ctx)
		}
		if err != nil {
			return session.StudyResult{}, err
		}

		index, total := e.Position()
		lipgloss.Fprintln(out, components.QuestionCard(q, index, total))

		shown := time.Now()
		answer, ok := prompt(in, out, q.Options)
		if !ok {
			return e.EndEarly(ctx)
		}

		sub, err := e.SubmitAnswer(ctx, answer, time.Since(shown))
		if err != nil {
			if study.IsInvalidState(err) {
				return e.EndEarly(ctx)
			}
			return session.StudyResult{}, err
		}
		lipgloss.Fprintln(out, components.Feedback(sub))
		fmt.Fprintln(out)
	}
}

// prompt reads until the input names an option. It returns false when the
// learner quits or input ends.
func prompt(in *bufio.Scanner, out io.Writer, options []string) (string, bool) {
	for {
		fmt.Fprint(out, theme.Hint.Render("Your answer: "))
		if !in.Scan() {
			fmt.Fprintln(out)
			return "", false
		}
		text := strings.TrimSpace(in.Text())
		if strings.EqualFold(text, "q") {
			return "", false
		}
		if len(options) == 0 && text != "" {
			return text, true
		}
		if choice, ok := components.ResolveChoice(text, options); ok {
			return choice, true
		}
		fmt.Fprintln(out, theme.Incorrect.Render("Pick one of the listed options."))
	}
}
