package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStudentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "student",
		Short: "Manage the class roster",
	}
	cmd.AddCommand(newStudentAddCmd(), newStudentListCmd(), newStudentDeleteCmd())
	return cmd
}

func newStudentAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <student-id> <name>",
		Short: "Add a student with a login password",
		Long: `Add a student to the roster. The year group is taken from the numeric
prefix of the id, so "20-ava" is stored with year group 20.

Examples:
  vcopcoach student add 20-ava "Ava Smith" --password rainbow`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			student, err := a.Auth.AddStudent(context.Background(), args[0], args[1], password)
			if err != nil {
				return fmt.Errorf("add student: %w", err)
			}
			fmt.Printf("Added %s (%s)\n", student.Name, student.ID)
			return nil
		},
	}
	cmd.Flags().String("password", "", "Login password for the student (required)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newStudentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the roster",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			students, err := a.Auth.ListStudents(context.Background())
			if err != nil {
				return fmt.Errorf("list students: %w", err)
			}
			if jsonOut {
				type row struct {
					ID        string `json:"id"`
					Name      string `json:"name"`
					YearGroup *int   `json:"yearGroup"`
				}
				rows := make([]row, 0, len(students))
				for _, s := range students {
					rows = append(rows, row{s.ID, s.Name, s.YearGroup})
				}
				return json.NewEncoder(os.Stdout).Encode(rows)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tYEAR GROUP")
			for _, s := range students {
				year := "-"
				if s.YearGroup != nil {
					year = fmt.Sprint(*s.YearGroup)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Name, year)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newStudentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <student-id>",
		Short: "Remove a student from the roster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Auth.DeleteStudent(context.Background(), args[0]); err != nil {
				return fmt.Errorf("delete student: %w", err)
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}
