// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/database/observability"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/scope"
	"github.com/qolzam/entitystore/internal/value"
	limitserrors "github.com/qolzam/entitystore/limits/errors"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
)

// FieldCreatedDateTime is the creation instant used by duration windows.
const FieldCreatedDateTime = "_createdDateTime"

const (
	operationLimits     = "limits"
	operationUniqueness = "uniqueness"
)

// Checker enforces record limits and uniqueness. It holds no mutable state
// besides metrics and is safe for concurrent use.
type Checker struct {
	rules   *models.RuleSet
	counter repository.Counter
	parser  *scope.Parser
	now     func() time.Time
	metrics *observability.MetricsCollector
}

// Option configures a Checker
type Option func(*Checker)

// WithClock fixes the clock used for duration windows and set filters
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		c.now = now
	}
}

// WithMetrics records checks on the given collector instead of the global one
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a Checker for rules, counting through counter
func NewChecker(rules *models.RuleSet, counter repository.Counter, opts ...Option) *Checker {
	c := &Checker{
		rules:   rules,
		counter: counter,
		now:     time.Now,
		metrics: observability.GetGlobalMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.parser = scope.NewParser(scope.WithClock(c.now))
	return c
}

// ruleCheck is one rule to evaluate against a candidate.
type ruleCheck struct {
	scope    string
	duration time.Duration
	// limit is negative for uniqueness rules
	limit int
}

func (rc ruleCheck) isUniqueness() bool {
	return rc.limit < 0
}

// CheckLimits rejects the write when any applicable rule's scope already
// holds limit records or more.
func (c *Checker) CheckLimits(ctx context.Context, kind models.Kind, candidate value.Object) error {
	if !kind.IsValid() {
		log.WarnWithContext(ctx, "CheckLimits: unknown record kind %s, no rules apply", kind)
		return nil
	}
	rules := c.rules.Limits(kind)
	checks := make([]ruleCheck, 0, len(rules))
	for _, r := range rules {
		checks = append(checks, ruleCheck{scope: r.Scope, duration: r.Duration, limit: r.Limit})
	}
	return c.run(ctx, kind, operationLimits, candidate, checks)
}

// CheckUniqueness rejects the write when any applicable uniqueness scope
// already holds a record other than the candidate.
func (c *Checker) CheckUniqueness(ctx context.Context, kind models.Kind, candidate value.Object) error {
	if !kind.IsValid() {
		log.WarnWithContext(ctx, "CheckUniqueness: unknown record kind %s, no rules apply", kind)
		return nil
	}
	rules := c.rules.Uniqueness(kind)
	checks := make([]ruleCheck, 0, len(rules))
	for _, r := range rules {
		checks = append(checks, ruleCheck{scope: r.Scope, limit: -1})
	}
	return c.run(ctx, kind, operationUniqueness, candidate, checks)
}

// run evaluates every rule concurrently and returns the first error. A
// rejection does not cancel the other rules' queries; they run to completion
// on the caller's context.
func (c *Checker) run(ctx context.Context, kind models.Kind, operation string, candidate value.Object, checks []ruleCheck) error {
	if len(checks) == 0 {
		return nil
	}

	checkID := newCheckID()
	c.metrics.StartCheck(checkID, kind.String(), operation)

	var g errgroup.Group
	for _, rc := range checks {
		g.Go(func() error {
			return c.evaluate(ctx, checkID, kind, candidate, rc)
		})
	}
	err := g.Wait()

	var limitErr *limitserrors.LimitExceededError
	var uniqueErr *limitserrors.UniquenessViolationError
	switch {
	case err == nil:
		c.metrics.PassCheck(checkID)
	case errors.As(err, &limitErr):
		c.metrics.RejectCheck(checkID, limitErr.Code())
	case errors.As(err, &uniqueErr):
		c.metrics.RejectCheck(checkID, uniqueErr.Code())
	default:
		c.metrics.FailCheck(checkID, err)
	}
	return err
}

func (c *Checker) evaluate(ctx context.Context, checkID string, kind models.Kind, candidate value.Object, rc ruleCheck) error {
	group, err := c.parser.Resolve(ctx, rc.scope, candidate)
	if err != nil {
		log.ErrorWithContext(ctx, "%s rule %q does not parse after interpolation: %v", kind, rc.scope, err)
		return fmt.Errorf("%w: %v", models.ErrInvalidRuleConfig, err)
	}

	where := group.Filter.Where
	if !filter.Matches(candidate, where) {
		return nil
	}

	if rc.duration > 0 {
		windowStart := c.now().Add(-rc.duration)
		if created, ok := createdAt(candidate); ok && !created.After(windowStart) {
			return nil
		}
		where = filter.Conjoin(where, filter.Op(FieldCreatedDateTime, filter.OpGt, value.Date(windowStart)))
	}

	if id, ok := candidate[interfaces.FieldID]; ok && !value.IsNull(id) {
		where = filter.Conjoin(where, filter.Op(interfaces.FieldID, filter.OpNeq, id))
	}

	c.metrics.IncrementQueries(checkID)
	var count int64
	if kind == models.KindRelation {
		count, err = c.counter.CountRelations(ctx, where, group.ListFilter.Where, group.EntityFilter.Where)
	} else {
		count, err = c.counter.Count(ctx, kind, where)
	}
	if err != nil {
		return err
	}

	if rc.isUniqueness() {
		if count > 0 {
			log.DebugWithContext(ctx, "%s uniqueness violated in scope %q", kind, group.Raw)
			return limitserrors.NewUniquenessViolationError(kind, group.Raw)
		}
		return nil
	}
	if count >= int64(rc.limit) {
		log.DebugWithContext(ctx, "%s limit %d reached in scope %q (count %d)", kind, rc.limit, group.Raw, count)
		return limitserrors.NewLimitExceededError(kind, rc.limit, group.Raw)
	}
	return nil
}

// createdAt reads the candidate's creation instant, if it has a usable one.
func createdAt(candidate value.Object) (time.Time, bool) {
	ms, ok := filter.Coerce(candidate[FieldCreatedDateTime]).(value.Number)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(ms)).UTC(), true
}

func newCheckID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Sprintf("check-%d", time.Now().UnixNano())
	}
	return id.String()
}

var _ RecordLimitChecker = (*Checker)(nil)
