package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resubd/resubd/pkg/config"
)

// validateFlags holds all flags for the validate command.
type validateFlags struct {
	configPath string
	jsonOutput bool
}

var validateFlagVals validateFlags

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load and validate a configuration file, then print a summary of the
configured subscriptions. Exits non-zero when the configuration is invalid,
so it can gate deployments.`,
	Example: `  resubd validate --config resubd.yaml
  resubd validate --config resubd.yaml --json`,
	RunE: runValidate,
}

func init() {
	f := &validateFlagVals

	validateCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML or JSON) [required]")
	validateCmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Output the summary in JSON format")

	_ = validateCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(validateCmd)
}

// validateSummary is the JSON output shape of the validate command.
type validateSummary struct {
	Valid         bool                  `json:"valid"`
	Listen        string                `json:"listen"`
	Upstream      string                `json:"upstream"`
	Subscriptions []subscriptionSummary `json:"subscriptions"`
}

type subscriptionSummary struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	FixedArgs int    `json:"fixedArgs"`
}

func runValidate(cmd *cobra.Command, _ []string) error {
	f := &validateFlagVals

	cfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	summary := validateSummary{
		Valid:         true,
		Listen:        cfg.Listen,
		Upstream:      cfg.Upstream,
		Subscriptions: make([]subscriptionSummary, 0, len(cfg.Subscriptions)),
	}
	for _, d := range cfg.Subscriptions {
		summary.Subscriptions = append(summary.Subscriptions, subscriptionSummary{
			Name:      d.Name,
			Key:       d.Key,
			FixedArgs: len(d.Args),
		})
	}

	out := cmd.OutOrStdout()
	if f.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(out, "%s: OK\n", f.configPath)
	fmt.Fprintf(out, "listen:   %s\n", cfg.Listen)
	fmt.Fprintf(out, "upstream: %s\n", cfg.Upstream)
	fmt.Fprintf(out, "tracked subscriptions: %d\n", len(cfg.Subscriptions))
	for _, d := range cfg.Subscriptions {
		fmt.Fprintf(out, "  - %s (key: %s", d.Name, d.Key)
		if len(d.Args) > 0 {
			fmt.Fprintf(out, ", %d fixed args", len(d.Args))
		}
		fmt.Fprintln(out, ")")
	}
	return nil
}
