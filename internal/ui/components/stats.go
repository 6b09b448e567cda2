package components

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/studysync/internal/progress"
	"github.com/abhisek/studysync/internal/reconcile"
	"github.com/abhisek/studysync/internal/study"
	"github.com/abhisek/studysync/internal/ui/theme"
)

// StatsCard renders weekly or monthly stats.
func StatsCard(title string, st progress.Stats, width int) string {
	rows := []string{
		theme.Title.Render(title),
		theme.Subtitle.Render(fmt.Sprintf("%s → %s", st.From.Format(study.DateLayout), st.To.AddDate(0, 0, -1).Format(study.DateLayout))),
		"",
		row("Answered", fmt.Sprintf("%d", st.Answered)),
		row("Correct", fmt.Sprintf("%d", st.Correct)),
		row("Time", st.TotalTime.Round(1e9).String()),
		row("Streak", fmt.Sprintf("%d days", st.StreakDays)),
		NewProgressBar("Accuracy", st.Accuracy, true, width-6).View(),
	}

	if len(st.ByPart) > 0 {
		rows = append(rows, "", theme.Subtitle.Render("By part"))
		for _, p := range st.ByPart {
			label := fmt.Sprintf("%s (%d)", p.PartType, p.Answered)
			rows = append(rows, NewProgressBar(label, p.Accuracy, true, width-6).View())
		}
	}

	if len(st.Days) > 0 {
		rows = append(rows, "", theme.Subtitle.Render("Daily"))
		for _, d := range st.Days {
			rows = append(rows, row(d.Date.Format("Mon Jan 2"), fmt.Sprintf("%d answered, %d correct", d.Answered, d.Correct)))
		}
	}

	var notes []string
	if st.Buffered > 0 {
		notes = append(notes, fmt.Sprintf("%d answers waiting to sync", st.Buffered))
	}
	if st.Partial {
		notes = append(notes, "remote store unreachable; local data only")
	}
	if len(notes) > 0 {
		rows = append(rows, "", theme.Pending.Render(strings.Join(notes, "\n")))
	}
	return theme.Card.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// SyncSummary renders one reconciliation pass.
func SyncSummary(sum reconcile.Summary) string {
	line := fmt.Sprintf("%d attempted, %s, %s",
		sum.Attempted,
		theme.Correct.Render(fmt.Sprintf("%d synced", sum.Succeeded)),
		failed(sum.Failed),
	)
	if sum.SessionsPushed > 0 || sum.SessionsFailed > 0 {
		line += fmt.Sprintf("; sessions: %d pushed, %d failed", sum.SessionsPushed, sum.SessionsFailed)
	}
	return line
}

// SyncStatus renders what is waiting locally.
func SyncStatus(st reconcile.Status) string {
	rows := []string{
		row("Pending", fmt.Sprintf("%d answers", st.PendingAnswers)),
		row("Synced", fmt.Sprintf("%d answers", st.SyncedAnswers)),
		row("Parked", fmt.Sprintf("%d sessions", st.ParkedSessions)),
	}
	if r := st.LastRun; r != nil {
		last := fmt.Sprintf("%s  %d/%d synced", r.FinishedAt.Local().Format("2006-01-02 15:04:05"), r.Succeeded, r.Attempted)
		if r.Error != "" {
			last += "  " + theme.Incorrect.Render(r.Error)
		}
		rows = append(rows, row("Last run", last))
	} else {
		rows = append(rows, row("Last run", theme.Hint.Render("never")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func failed(n int) string {
	s := fmt.Sprintf("%d failed", n)
	if n == 0 {
		return theme.Subtitle.Render(s)
	}
	return theme.Incorrect.Render(s)
}
