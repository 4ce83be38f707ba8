package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"breeditor/api/internal/rules"
	"breeditor/api/internal/snapshot"
	"breeditor/api/internal/store"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the rules file",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the editor projection of every rule",
	RunE:  runRulesList,
}

var rulesResolveCmd = &cobra.Command{
	Use:   "resolve <rule-id>",
	Short: "Show where a rule's editable value lives",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesResolve,
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect per-proof snapshots",
}

var snapshotsHistoryCmd = &cobra.Command{
	Use:   "history <proof-id>",
	Short: "List committed snapshot revisions for a proof",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsHistory,
}

var snapshotsLatestCmd = &cobra.Command{
	Use:   "latest <proof-id>",
	Short: "Print the newest snapshot of a proof",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshotsLatest,
}

var (
	rulesListCategory string
	historyLimit      int
)

func init() {
	rulesListCmd.Flags().StringVarP(&rulesListCategory, "category", "c", "", "Only rules in this category")
	snapshotsHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum revisions to print")

	rulesCmd.AddCommand(rulesListCmd, rulesResolveCmd)
	snapshotsCmd.AddCommand(snapshotsHistoryCmd, snapshotsLatestCmd)
	rootCmd.AddCommand(rulesCmd, snapshotsCmd)
}

func runRulesList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := store.NewRuleFile(cfg.RulesFile).LoadAll(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(rules.ProjectAll(rules.FilterByCategory(records, rulesListCategory)))
}

func runRulesResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	record, err := store.NewRuleFile(cfg.RulesFile).FindByID(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("rule %s: %w", args[0], err)
	}
	loc := rules.Locate(record)
	out := map[string]any{
		"ruleId":   record.ID(),
		"location": loc.Kind.String(),
		"value":    loc.Value(),
	}
	if loc.Kind == rules.OperandConstant {
		out["operandIndex"] = loc.Index
	}
	if v := record.Validation(); v != nil {
		out["validation"] = v
	}
	return printJSON(out)
}

func runSnapshotsHistory(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	commits, err := snapshot.New(cfg.SnapshotDir).History(args[0], historyLimit)
	if err != nil {
		return err
	}
	for _, c := range commits {
		fmt.Printf("%s  %s  %-20s %s\n", c.Hash, c.CreatedAt.Format("2006-01-02 15:04:05"), c.Author, c.Message)
	}
	return nil
}

func runSnapshotsLatest(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	doc, err := snapshot.New(cfg.SnapshotDir).Latest(args[0])
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", args[0], err)
	}
	return printJSON(doc)
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
