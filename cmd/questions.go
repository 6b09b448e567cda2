package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/questions"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Manage the question bank",
}

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Validate a question bank file and load it into the shared store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			qs, err := questions.ParseBank(f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid questions\n", args[0], len(qs))
			return nil
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := questions.Import(cmd.Context(), a.Remote, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d questions.\n", n)
		return nil
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Only validate the file")
	questionsCmd.AddCommand(importCmd)
}
