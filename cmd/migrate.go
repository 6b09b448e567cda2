package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/remote"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the shared store schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if list, _ := cmd.Flags().GetBool("list"); list {
			ms, err := remote.Migrations()
			if err != nil {
				return err
			}
			for _, m := range ms {
				fmt.Fprintf(out, "%04d  %s\n", m.Version, m.Name)
			}
			return nil
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.Postgres == nil {
			return errors.New("migrate needs the postgres remote driver")
		}

		applied, err := remote.RunMigrations(cmd.Context(), a.Postgres.Pool())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(out, "Schema is up to date.")
			return nil
		}
		for _, m := range applied {
			fmt.Fprintf(out, "applied %04d  %s\n", m.Version, m.Name)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("list", false, "List embedded migrations without connecting")
}
