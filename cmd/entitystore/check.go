// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/platform"
	"github.com/qolzam/entitystore/internal/value"
	limitserrors "github.com/qolzam/entitystore/limits/errors"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
)

// CheckOptions holds the flags of the check command
type CheckOptions struct {
	Kind       string
	File       string
	Seed       string
	Uniqueness bool
	Limits     bool
}

// CheckResult is the JSON payload of a passing check
type CheckResult struct {
	Kind   string   `json:"kind"`
	Checks []string `json:"checks"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Dry-run a candidate record against the configured rules",
		Long: `Check runs the uniqueness and limit checks for a candidate record
against the configured database without writing it.

Without --uniqueness or --limits both checks run. --seed loads a JSON
array of records into the memory backend first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Kind, "kind", "k", "entity", "record kind (entity|list|relation|entity-reaction|list-reaction)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "candidate record JSON file")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "JSON array of existing records (memory backend only)")
	cmd.Flags().BoolVar(&opts.Uniqueness, "uniqueness", false, "run the uniqueness check")
	cmd.Flags().BoolVar(&opts.Limits, "limits", false, "run the limit check")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runCheck(rootOpts *RootOptions, opts *CheckOptions, cmd *cobra.Command) error {
	out := rootOpts.output(cmd)

	kind, err := models.ParseKind(opts.Kind)
	if err != nil {
		return out.failure(ExitCommandError, CodeInputError, err.Error(), nil, err)
	}
	candidate, err := readObject(opts.File)
	if err != nil {
		return out.failure(ExitCommandError, CodeInputError, err.Error(), nil, err)
	}

	cfg, err := rootOpts.loadConfig(cmd)
	if err != nil {
		return out.failure(ExitCommandError, CodeConfigError, err.Error(), nil, err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.RequestTimeout)
	defer cancel()

	base, err := platform.NewBaseService(ctx, cfg)
	if err != nil {
		if errors.Is(err, models.ErrInvalidRuleConfig) {
			return out.failure(ExitCommandError, limitserrors.CodeInvalidRuleConfig, err.Error(), nil, err)
		}
		return out.failure(ExitCommandError, CodeDatabaseError, err.Error(), nil, err)
	}
	defer base.Close()

	if opts.Seed != "" {
		if base.GetDatabaseType() != interfaces.DatabaseTypeMemory {
			err := fmt.Errorf("--seed needs the memory backend, configured backend is %s", base.GetDatabaseType())
			return out.failure(ExitCommandError, CodeInputError, err.Error(), nil, err)
		}
		if err := seedRecords(ctx, base.Records, kind, opts.Seed); err != nil {
			return out.failure(ExitCommandError, CodeInputError, err.Error(), nil, err)
		}
	}

	checker := base.Checker
	runBoth := !opts.Uniqueness && !opts.Limits
	var ran []string
	if opts.Uniqueness || runBoth {
		ran = append(ran, "uniqueness")
		if err := checker.CheckUniqueness(ctx, kind, candidate); err != nil {
			return checkFailure(out, err)
		}
	}
	if opts.Limits || runBoth {
		ran = append(ran, "limits")
		if err := checker.CheckLimits(ctx, kind, candidate); err != nil {
			return checkFailure(out, err)
		}
	}

	log.Debug("check of %s passed: %v", kind, ran)
	return out.success(CheckResult{Kind: kind.String(), Checks: ran}, "OK")
}

// checkFailure reports a rejection with exit code 1 and anything else as a command error.
func checkFailure(out *output, err error) error {
	var limitErr *limitserrors.LimitExceededError
	var uniqueErr *limitserrors.UniquenessViolationError
	switch {
	case errors.As(err, &limitErr):
		return out.failure(ExitFailure, limitErr.Code(), limitErr.Error(), limitErr.Details(), err)
	case errors.As(err, &uniqueErr):
		return out.failure(ExitFailure, uniqueErr.Code(), uniqueErr.Error(), uniqueErr.Details(), err)
	case errors.Is(err, models.ErrInvalidRuleConfig):
		return out.failure(ExitCommandError, limitserrors.CodeInvalidRuleConfig, err.Error(), nil, err)
	default:
		return out.failure(ExitCommandError, CodeDatabaseError, err.Error(), nil, err)
	}
}

func readObject(path string) (value.Object, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read candidate: %w", err)
	}
	candidate, err := value.ParseObjectJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("candidate %s is not a JSON object: %w", path, err)
	}
	return candidate, nil
}

// seedRecords saves the records of a JSON array file. Relation seeds may
// carry a "_collection" of list or entity to seed the joined kinds.
func seedRecords(ctx context.Context, store repository.RecordRepository, kind models.Kind, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed: %w", err)
	}
	parsed, err := value.ParseJSON(raw)
	if err != nil {
		return fmt.Errorf("seed %s is not JSON: %w", path, err)
	}
	items, ok := parsed.(value.Array)
	if !ok {
		return fmt.Errorf("seed %s must be a JSON array", path)
	}
	for i, item := range items {
		record, ok := item.(value.Object)
		if !ok {
			return fmt.Errorf("seed %s: item %d is not an object", path, i)
		}
		target := kind
		if name, ok := record["_collection"].(value.String); ok {
			if target, err = models.ParseKind(string(name)); err != nil {
				return fmt.Errorf("seed %s: item %d: %w", path, i, err)
			}
			record = withoutKey(record, "_collection")
		}
		if err := store.Save(ctx, target, record); err != nil {
			return fmt.Errorf("seed %s: item %d: %w", path, i, err)
		}
	}
	log.Debug("seeded %d record(s) from %s", len(items), path)
	return nil
}

func withoutKey(o value.Object, key string) value.Object {
	out := make(value.Object, len(o))
	for k, v := range o {
		if k != key {
			out[k] = v
		}
	}
	return out
}
