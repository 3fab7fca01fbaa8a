package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentrelay/agentrelay/core"
)

const timeRounding = 10 * time.Millisecond

func newWorkflowsCmd(cfgPath *string) *cobra.Command {
	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Inspect and run registered workflows",
	}
	workflowsCmd.AddCommand(
		newWorkflowsListCmd(cfgPath),
		newWorkflowsRunCmd(cfgPath),
	)
	return workflowsCmd
}

func newWorkflowsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflow definitions loaded from the configured directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := wireApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			defs := a.relay.Workflows().List()
			if len(defs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no workflows registered")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTRATEGY\tTASKS\tSYNTHESIS")
			for _, def := range defs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\n",
					def.ID, def.Name, def.Strategy, len(def.Tasks), def.SynthesisPrompt != "")
			}
			return w.Flush()
		},
	}
}

func newWorkflowsRunCmd(cfgPath *string) *cobra.Command {
	var (
		actor       string
		contextKVs  []string
		showResults bool
	)

	runCmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Execute a workflow and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := wireApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			trigger := core.Trigger{Source: "cli", Actor: actor}
			if len(contextKVs) > 0 {
				trigger.Context = make(map[string]string, len(contextKVs))
				for _, kv := range contextKVs {
					key, value, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("context value %q: expected key=value", kv)
					}
					trigger.Context[key] = value
				}
			}

			exec, err := a.relay.ExecuteWorkflow(cmd.Context(), args[0], trigger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "execution %s: %s (%s)\n", exec.ID, exec.Status, exec.Duration().Round(timeRounding))
			if showResults {
				for _, result := range exec.Results {
					fmt.Fprintf(out, "\n--- task %s: %s\n", result.TaskID, result.Status)
					if result.Error != "" {
						fmt.Fprintln(out, "error:", result.Error)
					}
					if result.Output != "" {
						fmt.Fprintln(out, result.Output)
					}
				}
			}
			if exec.FinalOutput != "" {
				fmt.Fprintf(out, "\n%s\n", exec.FinalOutput)
			}
			if exec.Status != core.ExecutionCompleted {
				return fmt.Errorf("workflow %s finished with status %s", args[0], exec.Status)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&actor, "actor", "", "who triggered the run, recorded on the execution")
	runCmd.Flags().StringArrayVar(&contextKVs, "context", nil, "trigger context as key=value (repeatable)")
	runCmd.Flags().BoolVar(&showResults, "results", false, "print per-task results")
	return runCmd
}
