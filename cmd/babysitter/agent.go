package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/agents"
	"github.com/a5c-ai/babysitter/pkg/presenter"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Inspect the agent catalog",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available agents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		manager, err := a.agentManager(cmd.Context())
		if err != nil {
			return err
		}
		list := manager.Agents()
		if len(list) == 0 {
			presenter.Info("No agents found.")
			return nil
		}
		return displayAgents(os.Stdout, list)
	},
}

var agentShowCmd = &cobra.Command{
	Use:   "show <agent-name>",
	Short: "Show an agent profile and its system prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		manager, err := a.agentManager(cmd.Context())
		if err != nil {
			return err
		}
		agent, err := manager.GetAgent(args[0])
		if err != nil {
			return err
		}

		m := agent.Metadata
		presenter.Section(m.Name)
		fmt.Printf("Description: %s\n", m.Description)
		if m.Role != "" {
			fmt.Printf("Role:        %s\n", m.Role)
		}
		if len(m.Expertise) > 0 {
			fmt.Printf("Expertise:   %s\n", strings.Join(m.Expertise, ", "))
		}
		if len(m.Skills) > 0 {
			fmt.Printf("Skills:      %s\n", strings.Join(m.Skills, ", "))
		}
		fmt.Printf("Model:       %s\n", modelLabel(m))
		fmt.Printf("Path:        %s\n\n", agent.Path)
		fmt.Println(strings.TrimSpace(agent.SystemPrompt))
		return nil
	},
}

func init() {
	agentCmd.AddCommand(agentListCmd, agentShowCmd)
}

func modelLabel(m agents.AgentMetadata) string {
	provider, model := m.Provider, m.Model
	if provider == "" {
		provider = "default"
	}
	if model == "" {
		model = "default"
	}
	return provider + "/" + model
}

func displayAgents(w io.Writer, list []*agents.Agent) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tMODEL\tDESCRIPTION")
	for _, agent := range list {
		m := agent.Metadata
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.Role, modelLabel(m), truncate(m.Description, 70))
	}
	return tw.Flush()
}
