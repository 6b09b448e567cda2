package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/study"
	"github.com/abhisek/studysync/internal/ui/components"
	"github.com/abhisek/studysync/internal/ui/theme"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show study statistics",
}

var weeklyCmd = &cobra.Command{
	Use:   "weekly",
	Short: "Answers, accuracy and streak for one week",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		week := study.WeekStart(a.Stats.Today())
		if v, _ := cmd.Flags().GetString("week"); v != "" {
			day, err := study.ParseDay(v)
			if err != nil {
				return fmt.Errorf("--week: %w", err)
			}
			week = study.WeekStart(day)
		}
		st, err := a.Stats.WeeklyStats(cmd.Context(), userFlag(cmd), week)
		if err != nil {
			return err
		}
		return render(cmd, st, func(w io.Writer) {
			lipgloss.Fprintln(w, components.StatsCard("Weekly progress", st, cardWidth))
		})
	},
}

var monthlyCmd = &cobra.Command{
	Use:   "monthly",
	Short: "Answers, accuracy and per-part breakdown for one month",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		month := a.Stats.Today()
		if v, _ := cmd.Flags().GetString("month"); v != "" {
			if month, err = time.Parse("2006-01", v); err != nil {
				return fmt.Errorf("--month must look like 2025-03: %w", err)
			}
		}
		st, err := a.Stats.MonthlyStats(cmd.Context(), userFlag(cmd), month)
		if err != nil {
			return err
		}
		return render(cmd, st, func(w io.Writer) {
			lipgloss.Fprintln(w, components.StatsCard("Monthly progress", st, cardWidth))
		})
	},
}

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recently completed sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		recent, err := a.Stats.RecentSessions(cmd.Context(), userFlag(cmd), limit)
		if err != nil {
			return err
		}
		return render(cmd, recent, func(w io.Writer) {
			if len(recent.Sessions) == 0 {
				fmt.Fprintln(w, theme.Hint.Render("No completed sessions yet."))
			}
			for _, s := range recent.Sessions {
				var score float64
				if s.Score != nil {
					score = *s.Score
				}
				when := s.StartTime
				if s.EndTime != nil {
					when = *s.EndTime
				}
				fmt.Fprintf(w, "%s  %-6s %3d%%  %d questions\n",
					when.Local().Format("2006-01-02 15:04"), s.PartType, int(score*100+0.5), s.TotalQuestions)
			}
			if recent.Partial {
				fmt.Fprintln(w, theme.Pending.Render("remote store unreachable; local sessions only"))
			}
		})
	},
}

func init() {
	statsCmd.PersistentFlags().StringP("user", "u", "", "User ID (required)")
	_ = statsCmd.MarkPersistentFlagRequired("user")
	statsCmd.PersistentFlags().Bool("json", false, "Print as JSON")

	weeklyCmd.Flags().String("week", "", "Any day in the week, YYYY-MM-DD (default this week)")
	monthlyCmd.Flags().String("month", "", "Month as YYYY-MM (default this month)")
	recentCmd.Flags().Int("limit", 10, "Maximum sessions to list")

	statsCmd.AddCommand(weeklyCmd, monthlyCmd, recentCmd)
}

func userFlag(cmd *cobra.Command) string {
	u, _ := cmd.Flags().GetString("user")
	return u
}

// render prints v as JSON when --json is set, otherwise calls pretty.
func render(cmd *cobra.Command, v any, pretty func(io.Writer)) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	pretty(out)
	return nil
}
