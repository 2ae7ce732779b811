package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/feedsync/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Types []string // keep only these event types
	Step  int      // keep only this step; 0 keeps all
}

// TraceResult is the output of the trace command.
type TraceResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Errors   []string             `json:"errors,omitempty"`
	Timeline []harness.TraceEvent `json:"timeline"`
	Posts    []harness.PostState  `json:"posts"`
	Stats    map[string]int       `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario.yaml>",
		Short: "Show the event timeline of a scenario",
		Long: `Run one scenario and print what the engine did at each step.

The output includes:
- Timeline: every intent, dispatch, resolution, redirect, stream event
  and clock advance in order
- Posts: the final state of every post as the viewer sees it
- Stats: the number of events of each type

Examples:
  feedsync trace ./scenarios/failed_like_rolls_back.yaml
  feedsync trace ./scenarios/created_post_redirects.yaml --type dispatch --type redirect
  feedsync trace ./scenarios/stories_expire.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "filter to event types (repeatable)")
	cmd.Flags().IntVar(&opts.Step, "step", 0, "filter to one step")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := harness.RunContext(ctx, scenario)
	if err != nil {
		_ = formatter.Error(ErrCodeScenario, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	out := TraceResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Timeline: filterTimeline(result.Trace, opts.Types, opts.Step),
		Posts:    result.Posts,
	}
	out.Stats = countTypes(out.Timeline)

	return formatter.Success(out, func(w io.Writer) {
		writeTraceText(w, out, opts.Verbose)
	})
}

// filterTimeline keeps the events matching every filter given.
func filterTimeline(trace []harness.TraceEvent, types []string, step int) []harness.TraceEvent {
	keep := make(map[string]bool, len(types))
	for _, t := range types {
		keep[t] = true
	}
	out := []harness.TraceEvent{}
	for _, ev := range trace {
		if len(keep) > 0 && !keep[ev.Type] {
			continue
		}
		if step > 0 && ev.Step != step {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func countTypes(trace []harness.TraceEvent) map[string]int {
	counts := map[string]int{}
	for _, ev := range trace {
		counts[ev.Type]++
	}
	return counts
}

func writeTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for scenario: %s\n", result.Scenario)
	fmt.Fprintf(w, "Status: %s\n", passStatus(result.Pass))
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	step := 0
	for _, ev := range result.Timeline {
		if verbose && ev.Step != step {
			fmt.Fprintf(w, "  -- step %d\n", ev.Step)
			step = ev.Step
		}
		fmt.Fprintf(w, "  [%d] %-9s %s\n", ev.Seq, strings.ToUpper(ev.Type), ev.Detail)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Posts ===")
	if len(result.Posts) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range result.Posts {
		fmt.Fprintf(w, "  %s likes=%d recasts=%d comments=%d%s\n",
			p.ID, p.Likes, p.Recasts, p.Comments, viewerMarks(p))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	types := make([]string, 0, len(result.Stats))
	for t := range result.Stats {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-10s %d\n", t+":", result.Stats[t])
	}
}

func viewerMarks(p harness.PostState) string {
	var marks []string
	if p.Liked {
		marks = append(marks, "liked")
	}
	if p.Recast {
		marks = append(marks, "recast")
	}
	if len(marks) == 0 {
		return ""
	}
	return " [" + strings.Join(marks, ",") + "]"
}

func passStatus(pass bool) string {
	if pass {
		return "Pass"
	}
	return "Fail"
}
