// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qolzam/entitystore/internal/database/factory"
	limitserrors "github.com/qolzam/entitystore/limits/errors"
	"github.com/qolzam/entitystore/limits/models"
)

// Command error codes
const (
	CodeConfigError   = "CONFIG_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeInputError    = "INPUT_ERROR"
)

// KindRules is the validated rule set of one kind
type KindRules struct {
	Kind       string                  `json:"kind"`
	Limits     []models.Rule           `json:"limits"`
	Uniqueness []models.UniquenessRule `json:"uniqueness"`
}

// NewValidateConfigCommand creates the validate-config command.
func NewValidateConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load the configuration and print the rules of every kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(rootOpts, cmd)
		},
	}
}

func runValidateConfig(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.output(cmd)

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return out.failure(ExitCommandError, CodeConfigError, err.Error(), nil, err)
	}
	if err := factory.NewRepositoryFactoryFromPlatformConfig(cfg.Database).ValidateConfig(); err != nil {
		return out.failure(ExitCommandError, CodeDatabaseError, err.Error(), nil, err)
	}

	rules, err := models.NewRuleSet(cfg.Policies)
	if err != nil {
		code := CodeConfigError
		if errors.Is(err, models.ErrInvalidRuleConfig) {
			code = limitserrors.CodeInvalidRuleConfig
		}
		return out.failure(ExitCommandError, code, err.Error(), nil, err)
	}

	summary := make([]KindRules, 0, len(models.Kinds))
	for _, kind := range models.Kinds {
		summary = append(summary, KindRules{
			Kind:       kind.String(),
			Limits:     rules.Limits(kind),
			Uniqueness: rules.Uniqueness(kind),
		})
	}
	return out.success(summary, formatRules(cfg.Database.Type, summary))
}

func formatRules(dbType string, summary []KindRules) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Configuration valid (database: %s)\n", dbType)
	for _, kr := range summary {
		fmt.Fprintf(&b, "\n%s\n", kr.Kind)
		if len(kr.Limits) == 0 && len(kr.Uniqueness) == 0 {
			b.WriteString("  no rules\n")
			continue
		}
		for _, r := range kr.Limits {
			fmt.Fprintf(&b, "  limit %d in %s", r.Limit, r.Scope)
			if r.RawDuration != "" {
				fmt.Fprintf(&b, " within %s", r.RawDuration)
			}
			b.WriteString("\n")
		}
		for _, u := range kr.Uniqueness {
			fmt.Fprintf(&b, "  unique in %s\n", u.Scope)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
