package cmd

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/config"
	"github.com/abhisek/studysync/internal/ui/theme"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		path, _ := cmd.Flags().GetString("config")
		cfgFile := config.ConfigFile(path)
		if cfgFile == "" {
			cfgFile = "(defaults)"
		}
		fmt.Fprintln(out, theme.Label.Render("config")+cfgFile)
		fmt.Fprintln(out, theme.Label.Render("database")+a.Config.DB)
		fmt.Fprintln(out, theme.Label.Render("driver")+a.Config.Remote.Driver)

		checks := a.Check(cmd.Context())
		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		slices.Sort(names)

		failed := false
		for _, name := range names {
			status := theme.Correct.Render("ok")
			if err := checks[name]; err != nil {
				failed = true
				status = theme.Incorrect.Render(err.Error())
			}
			fmt.Fprintln(out, theme.Label.Render(name)+status)
		}
		if failed {
			return errors.New("some checks failed")
		}
		return nil
	},
}
