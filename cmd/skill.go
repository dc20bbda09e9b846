package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/dojo/internal/ui/report"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Manage skill enrollments",
}

var skillStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Enroll in a skill at white belt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		d := b.localDispatcher()
		defer d.Close(context.Background())

		started, err := b.services(d, nil, nil).enrollments.Start(cmd.Context(), currentUser(cmd), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enrolled in %s (%s) at white belt.\nOnboarding session: %s\n",
			started.Skill.Name, started.Skill.ID, started.OnboardingSessionID)
		return nil
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your enrollments",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		list, err := b.services(nil, nil, nil).enrollments.List(cmd.Context(), currentUser(cmd))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.RenderSkills(list))
		return nil
	},
}

var skillRemoveCmd = &cobra.Command{
	Use:   "remove <skill-id>",
	Short: "Delete an enrollment with its sessions and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := b.services(nil, nil, nil).enrollments.Remove(cmd.Context(), currentUser(cmd), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s.\n", args[0])
		return nil
	},
}

func init() {
	skillCmd.AddCommand(skillStartCmd)
	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillRemoveCmd)
}
