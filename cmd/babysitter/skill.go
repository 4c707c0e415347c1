package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/a5c-ai/babysitter/pkg/presenter"
	"github.com/a5c-ai/babysitter/pkg/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect the skill catalog",
	Long:  `List and show the skills discovered in the skill directories and installed plugins.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available skills",
	RunE: func(_ *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		discovery, err := a.skillDiscovery()
		if err != nil {
			return err
		}
		skillSet, err := discovery.DiscoverSkills()
		if err != nil {
			return err
		}
		if problems := discovery.Lint(); problems != nil {
			presenter.Warning(problems.Error())
		}
		if len(skillSet) == 0 {
			presenter.Info("No skills found.")
			return nil
		}
		return displaySkills(os.Stdout, skills.ByName(skillSet))
	},
}

var skillShowCmd = &cobra.Command{
	Use:   "show <skill-name>",
	Short: "Show a skill and its instructions",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		discovery, err := a.skillDiscovery()
		if err != nil {
			return err
		}
		skill, err := discovery.GetSkill(args[0])
		if err != nil {
			return err
		}

		presenter.Section(skill.Name)
		fmt.Printf("Description:  %s\n", skill.Description)
		if skill.Category != "" {
			fmt.Printf("Category:     %s\n", skill.Category)
		}
		if skill.Priority != "" {
			fmt.Printf("Priority:     %s\n", skill.Priority)
		}
		if len(skill.Capabilities) > 0 {
			fmt.Printf("Capabilities: %s\n", strings.Join(skill.Capabilities, ", "))
		}
		if len(skill.Agents) > 0 {
			fmt.Printf("Agents:       %s\n", strings.Join(skill.Agents, ", "))
		}
		fmt.Printf("Directory:    %s\n\n", skill.Directory)
		fmt.Println(strings.TrimSpace(skill.Content))
		return nil
	},
}

func init() {
	skillCmd.AddCommand(skillListCmd, skillShowCmd)
}

func displaySkills(w io.Writer, list []*skills.Skill) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPRIORITY\tCATEGORY\tDESCRIPTION")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Priority, s.Category, truncate(s.Description, 70))
	}
	return tw.Flush()
}
