package cmd

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/dojo/internal/store"
)

var llmCmd = &cobra.Command{
	Use:   "llm",
	Short: "Inspect recorded sensei model calls",
}

var llmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent model calls, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		purpose, _ := cmd.Flags().GetString("purpose")
		failedOnly, _ := cmd.Flags().GetBool("failed")

		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		events, err := b.repos.Events.QueryLLMEvents(cmd.Context(), store.QueryOpts{Limit: limit})
		if err != nil {
			return fmt.Errorf("query llm events: %w", err)
		}
		shown := events[:0]
		for _, e := range events {
			if (purpose == "" || e.Purpose == purpose) && (!failedOnly || !e.Success) {
				shown = append(shown, e)
			}
		}

		out := cmd.OutOrStdout()
		if len(shown) == 0 {
			fmt.Fprintln(out, "No model calls recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tWHEN\tPROVIDER\tMODEL\tPURPOSE\tTOKENS\tMS\tOK")
		for _, e := range shown {
			mark := "ok"
			if !e.Success {
				mark = "FAIL"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
				e.ID, e.Timestamp.Local().Format(time.DateTime), e.Provider, truncate(e.Model, 28),
				e.Purpose, e.InputTokens, e.OutputTokens, e.LatencyMs, mark)
		}
		return tw.Flush()
	},
}

var llmViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "Show the full transcript and response of one model call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id <= 0 {
			return fmt.Errorf("event id must be a positive number, got %q", args[0])
		}

		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		e, err := b.repos.Events.GetLLMEvent(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("get llm event %d: %w", id, err)
		}
		if e == nil {
			return fmt.Errorf("llm event %d: %w", id, store.ErrNotFound)
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
		fmt.Fprintf(tw, "ID:\t%d\n", e.ID)
		fmt.Fprintf(tw, "Time:\t%s\n", e.Timestamp.Local().Format(time.DateTime))
		fmt.Fprintf(tw, "Provider:\t%s (%s)\n", e.Provider, e.Model)
		fmt.Fprintf(tw, "Purpose:\t%s\n", e.Purpose)
		fmt.Fprintf(tw, "Tokens:\t%d in / %d out\n", e.InputTokens, e.OutputTokens)
		fmt.Fprintf(tw, "Latency:\t%dms\n", e.LatencyMs)
		if e.ErrorMessage != "" {
			fmt.Fprintf(tw, "Error:\t%s\n", e.ErrorMessage)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		sep := strings.Repeat("─", 60)
		section(out, sep, "REQUEST", e.RequestBody)
		section(out, sep, "RESPONSE", e.ResponseBody)
		return nil
	},
}

var llmStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated LLM token usage by model",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd, false)
		if err != nil {
			return err
		}
		defer b.Close()

		events, err := b.repos.Events.QueryLLMEvents(cmd.Context(), store.QueryOpts{})
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(out, "No LLM usage recorded yet.")
			return nil
		}

		usage := aggregateUsage(events)
		fmt.Fprintln(out, "Usage by Model")
		fmt.Fprintln(out, strings.Repeat("─", 80))
		fmt.Fprintf(out, "%-32s  %6s  %6s  %10s  %10s  %8s\n",
			"Model", "Calls", "Failed", "Input", "Output", "Avg Ms")
		fmt.Fprintln(out, strings.Repeat("─", 80))

		var total modelUsage
		for _, u := range usage {
			fmt.Fprintf(out, "%-32s  %6d  %6d  %10d  %10d  %8d\n",
				truncate(u.Model, 32), u.Calls, u.Failed, u.InputTokens, u.OutputTokens, u.avgLatency())
			total.Calls += u.Calls
			total.Failed += u.Failed
			total.InputTokens += u.InputTokens
			total.OutputTokens += u.OutputTokens
		}
		fmt.Fprintln(out, strings.Repeat("─", 80))
		fmt.Fprintf(out, "%-32s  %6d  %6d  %10d  %10d\n",
			"TOTAL", total.Calls, total.Failed, total.InputTokens, total.OutputTokens)
		return nil
	},
}

type modelUsage struct {
	Model        string
	Calls        int
	Failed       int
	InputTokens  int
	OutputTokens int
	latencyMs    int64
}

func (u modelUsage) avgLatency() int64 {
	if u.Calls == 0 {
		return 0
	}
	return u.latencyMs / int64(u.Calls)
}

// aggregateUsage sums events per model, busiest first.
func aggregateUsage(events []store.LLMEventRecord) []modelUsage {
	byModel := map[string]*modelUsage{}
	for _, e := range events {
		u, ok := byModel[e.Model]
		if !ok {
			u = &modelUsage{Model: e.Model}
			byModel[e.Model] = u
		}
		u.Calls++
		if !e.Success {
			u.Failed++
		}
		u.InputTokens += e.InputTokens
		u.OutputTokens += e.OutputTokens
		u.latencyMs += e.LatencyMs
	}
	out := make([]modelUsage, 0, len(byModel))
	for _, u := range byModel {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Calls != out[j].Calls {
			return out[i].Calls > out[j].Calls
		}
		return out[i].Model < out[j].Model
	})
	return out
}

func section(w io.Writer, sep, title, body string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, sep)
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, sep)
	if body == "" {
		body = "(not captured)"
	}
	fmt.Fprintln(w, body)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	llmListCmd.Flags().IntP("limit", "n", 20, "Number of events to show")
	llmListCmd.Flags().StringP("purpose", "p", "", "Filter by purpose (e.g. sensei)")
	llmListCmd.Flags().Bool("failed", false, "Only show failed calls")

	llmCmd.AddCommand(llmListCmd)
	llmCmd.AddCommand(llmViewCmd)
	llmCmd.AddCommand(llmStatsCmd)
}
