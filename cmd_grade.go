package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newGradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade <file|->",
		Short: "Estimate the National Curriculum year level of a piece of writing",
		Long: `Grade a piece of writing read from a file, or from stdin when the
argument is "-". Pass --student to compare against the student's actual year.

Examples:
  vcopcoach grade story.txt --student 20-ava
  cat story.txt | vcopcoach grade -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			studentID, _ := cmd.Flags().GetString("student")
			jsonOut, _ := cmd.Flags().GetBool("json")

			var text []byte
			var err error
			if args[0] == "-" {
				text, err = io.ReadAll(os.Stdin)
			} else {
				text, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read writing: %w", err)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			grade, err := a.Grader.Grade(context.Background(), string(text), studentID)
			if err != nil {
				return fmt.Errorf("grade: %w", err)
			}
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(grade)
			}
			fmt.Printf("Level: %s\n", grade.Level)
			if grade.ActualYear != nil {
				fmt.Printf("Actual year: %s\n", *grade.ActualYear)
			}
			if grade.Reason != "" {
				fmt.Printf("Reason: %s\n", grade.Reason)
			}
			return nil
		},
	}
	cmd.Flags().String("student", "", "Student id, used to look up the actual year group")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
