package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/escalation"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score a narrative against the escalation rules without recording it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if evalProbability < 0 || evalProbability > 1 {
			return fmt.Errorf("--ml-probability must be between 0 and 1, got %v", evalProbability)
		}
		result := escalation.NewEngine().Evaluate(evalProbability, evalDrug, evalEvent, evalSymptoms)
		return printJSON(cmd.OutOrStdout(), result)
	},
}

var (
	evalDrug        string
	evalEvent       string
	evalProbability float64
	evalSymptoms    []string
)

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evalDrug, "drug", "", "suspect drug name")
	evaluateCmd.Flags().StringVar(&evalEvent, "event", "", "adverse event narrative")
	evaluateCmd.Flags().Float64Var(&evalProbability, "ml-probability", escalation.NeutralProbability, "model probability that the event is serious")
	evaluateCmd.Flags().StringSliceVar(&evalSymptoms, "symptom", nil, "extracted symptom (repeatable)")
	_ = evaluateCmd.MarkFlagRequired("event")
}
