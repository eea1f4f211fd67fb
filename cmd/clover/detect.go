package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/clover/internal/storage"
	"github.com/Ramsey-B/clover/pkg/grouping"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// accountGroups is one account's section of the detect report
type accountGroups struct {
	AccountID string                  `json:"account_id" yaml:"account_id"`
	Clients   int                     `json:"clients" yaml:"clients"`
	Groups    []models.DuplicateGroup `json:"groups" yaml:"groups"`
}

func newDetectCommand(load configLoader) *cobra.Command {
	var (
		file     string
		strategy string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Group the clients of a YAML fixture into duplicate groups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if strategy == "" {
				strategy = cfg.GroupingStrategy
			}
			parsed, err := grouping.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output %q", output)
			}

			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()

			seed, err := storage.ReadSeed(f)
			if err != nil {
				return err
			}

			normalizer := normalizers.NewClientNormalizer(normalizers.NewPhoneNormalizer(cfg.PhoneCountryCode, cfg.PhoneNationalLengths))
			engine := grouping.NewEngine(matching.NewScorer(normalizer), parsed)

			report := detect(seed, engine)
			return writeReport(cmd.OutOrStdout(), output, report)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a clients list")
	cmd.Flags().StringVar(&strategy, "strategy", "", "grouping strategy: greedy or components (default from config)")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

// detect groups each account separately, accounts in order of first appearance.
func detect(seed *storage.Seed, engine *grouping.Engine) []accountGroups {
	byAccount := make(map[string][]models.Client)
	var accounts []string
	for _, c := range seed.Clients {
		if _, ok := byAccount[c.AccountID]; !ok {
			accounts = append(accounts, c.AccountID)
		}
		if c.Status == "" {
			c.Status = models.ClientStatusActive
		}
		byAccount[c.AccountID] = append(byAccount[c.AccountID], c)
	}

	report := make([]accountGroups, 0, len(accounts))
	for _, accountID := range accounts {
		groups := engine.Group(byAccount[accountID])
		if groups == nil {
			groups = []models.DuplicateGroup{}
		}
		report = append(report, accountGroups{
			AccountID: accountID,
			Clients:   len(byAccount[accountID]),
			Groups:    groups,
		})
	}
	return report
}

func writeReport(w io.Writer, output string, report []accountGroups) error {
	if output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(report)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
