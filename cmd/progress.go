package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/dojo/internal/enrollment"
	"github.com/abhisek/dojo/internal/mastery"
	"github.com/abhisek/dojo/internal/spacedrep"
	"github.com/abhisek/dojo/internal/ui/report"
)

var progressCmd = &cobra.Command{
	Use:   "progress <skill>",
	Short: "Show belt progress and concept mastery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		width, _ := cmd.Flags().GetInt("width")

		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cmd.Context()
		skillID := enrollment.Slug(args[0])
		e, err := b.services(nil, nil, nil).enrollments.Get(ctx, currentUser(cmd), skillID)
		if err != nil {
			return fmt.Errorf("load %s: %w", skillID, err)
		}
		sk, err := b.repos.Skills.GetSkill(ctx, skillID)
		if err != nil {
			return fmt.Errorf("load skill: %w", err)
		}
		completed, err := b.repos.Sessions.CountCompleted(ctx, e.ID)
		if err != nil {
			return fmt.Errorf("count sessions: %w", err)
		}

		now := time.Now()
		fmt.Fprintln(cmd.OutOrStdout(), report.RenderProgress(report.Progress{
			Skill:       sk.Name,
			Enrollment:  e,
			Eligibility: mastery.Evaluate(e, completed, now),
			Concepts:    mastery.Snapshot(e, now),
			Suggestions: spacedrep.NewScheduler(b.log).Prioritize(e, now),
		}, width))
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <skill>",
	Short: "Show belt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		ctx := cmd.Context()
		skillID := enrollment.Slug(args[0])
		entries, err := b.services(nil, nil, nil).enrollments.History(ctx, currentUser(cmd), skillID)
		if err != nil {
			return fmt.Errorf("load %s: %w", skillID, err)
		}
		name := skillID
		if sk, err := b.repos.Skills.GetSkill(ctx, skillID); err == nil {
			name = sk.Name
		}
		fmt.Fprintln(cmd.OutOrStdout(), report.RenderHistory(name, entries))
		return nil
	},
}

func init() {
	progressCmd.Flags().Int("width", report.DefaultWidth, "Report width in columns")
}
