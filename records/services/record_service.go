// Copyright (c) 2024 Telar Social
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/uuid"

	"github.com/qolzam/entitystore/internal/cache"
	"github.com/qolzam/entitystore/internal/database/interfaces"
	"github.com/qolzam/entitystore/internal/filter"
	"github.com/qolzam/entitystore/internal/pkg/log"
	"github.com/qolzam/entitystore/internal/platform/config"
	"github.com/qolzam/entitystore/internal/value"
	"github.com/qolzam/entitystore/limits/models"
	"github.com/qolzam/entitystore/limits/repository"
	limitsservices "github.com/qolzam/entitystore/limits/services"
	recorderrors "github.com/qolzam/entitystore/records/errors"
)

// Fields maintained by the write path
const (
	FieldCreatedDateTime     = limitsservices.FieldCreatedDateTime
	FieldLastUpdatedDateTime = "_lastUpdatedDateTime"
	FieldValidFromDateTime   = "_validFromDateTime"
	FieldKind                = "_kind"
	FieldVisibility          = "_visibility"
	FieldName                = "_name"
	FieldSlug                = "_slug"
	FieldIdempotencyKey      = "_idempotencyKey"
)

// DefaultVisibility is applied when a record does not name one
const DefaultVisibility = "protected"

// claimTTL bounds how long a crashed writer can hold an idempotency key
const claimTTL = 30 * time.Second

// lookupPattern matches every cached lookup result
const lookupPattern = lookupNamespace + ":*"

type recordService struct {
	kind    models.Kind
	policy  config.KindPolicy
	repo    repository.RecordRepository
	checker limitsservices.RecordLimitChecker
	cache   *cache.GenericCacheService
	now     func() time.Time
	newID   func() (string, error)
}

// Option configures a RecordService
type Option func(*recordService)

// WithClock fixes the clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *recordService) {
		s.now = now
	}
}

// WithIDGenerator replaces the uuid v4 generator
func WithIDGenerator(newID func() (string, error)) Option {
	return func(s *recordService) {
		s.newID = newID
	}
}

// NewRecordService creates the write path for kind. A nil cache disables
// idempotency caching; replays still work through the repository.
func NewRecordService(kind models.Kind, policy config.KindPolicy, repo repository.RecordRepository, checker limitsservices.RecordLimitChecker, cacheService *cache.GenericCacheService, opts ...Option) RecordService {
	if cacheService == nil {
		cacheService = cache.NewGenericCacheService(nil, &cache.CacheConfig{Enabled: false})
	}
	s := &recordService{
		kind:    kind,
		policy:  policy,
		repo:    repo,
		checker: checker,
		cache:   cacheService,
		now:     time.Now,
		newID:   newUUID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *recordService) Create(ctx context.Context, data value.Object) (value.Object, error) {
	now := s.now().UTC()
	candidate := copyObject(data)

	if id, ok := candidate[interfaces.FieldID]; !ok || value.IsNull(id) || value.Format(id) == "" {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate record id: %w", err)
		}
		candidate[interfaces.FieldID] = value.String(id)
	}
	candidate[FieldCreatedDateTime] = value.Date(now)
	candidate[FieldLastUpdatedDateTime] = value.Date(now)
	s.applyDefaults(candidate, now)

	key, hasKey, err := s.idempotencyKey(candidate)
	if err != nil {
		return nil, recorderrors.NewRecordError(s.kind, "", fmt.Errorf("%w: %v", recorderrors.ErrInvalidRecord, err))
	}
	if hasKey {
		candidate[FieldIdempotencyKey] = value.String(key)
		existing, err := s.replay(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.InfoWithContext(ctx, "%s create replayed idempotent write %s", s.kind, value.Format(existing[interfaces.FieldID]))
			return existing, nil
		}
	}

	if err := s.check(ctx, candidate); err != nil {
		return nil, err
	}

	id := value.Format(candidate[interfaces.FieldID])
	if hasKey {
		release, err := s.claim(ctx, key, id)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	if err := s.repo.Save(ctx, s.kind, candidate); err != nil {
		if errors.Is(err, interfaces.ErrDuplicateKey) {
			return nil, recorderrors.NewRecordError(s.kind, id, recorderrors.ErrRecordAlreadyExists)
		}
		log.ErrorWithContext(ctx, "failed to save %s %s: %v", s.kind, id, err)
		return nil, err
	}

	if hasKey {
		if err := s.cache.CacheData(ctx, s.idempotencyCacheKey(key), id); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
			log.WarnWithContext(ctx, "failed to cache idempotency key for %s %s: %v", s.kind, id, err)
		}
	}
	s.invalidateLookups(ctx, id)
	log.DebugWithContext(ctx, "%s %s created", s.kind, id)
	return candidate, nil
}

func (s *recordService) Update(ctx context.Context, id string, patch value.Object) (value.Object, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := copyObject(stored)
	for k, v := range patch {
		merged[k] = v
	}
	if _, renamed := patch[FieldName]; renamed {
		if _, explicit := patch[FieldSlug]; !explicit {
			delete(merged, FieldSlug)
		}
	}
	return s.write(ctx, id, stored, merged)
}

func (s *recordService) Replace(ctx context.Context, id string, data value.Object) (value.Object, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, id, stored, copyObject(data))
}

func (s *recordService) Get(ctx context.Context, id string) (value.Object, error) {
	record, err := s.repo.FindByID(ctx, s.kind, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNoDocuments) {
			return nil, recorderrors.NewRecordError(s.kind, id, recorderrors.ErrRecordNotFound)
		}
		return nil, err
	}
	return record, nil
}

// write stores candidate over the record with id, keeping identity fields.
func (s *recordService) write(ctx context.Context, id string, stored, candidate value.Object) (value.Object, error) {
	now := s.now().UTC()
	candidate[interfaces.FieldID] = stored[interfaces.FieldID]
	if created, ok := stored[FieldCreatedDateTime]; ok {
		candidate[FieldCreatedDateTime] = created
	} else {
		delete(candidate, FieldCreatedDateTime)
	}
	candidate[FieldLastUpdatedDateTime] = value.Date(now)
	s.applyDefaults(candidate, now)

	key, hasKey, err := s.idempotencyKey(candidate)
	if err != nil {
		return nil, recorderrors.NewRecordError(s.kind, id, fmt.Errorf("%w: %v", recorderrors.ErrInvalidRecord, err))
	}
	if hasKey {
		candidate[FieldIdempotencyKey] = value.String(key)
	}

	if err := s.check(ctx, candidate); err != nil {
		return nil, err
	}
	if err := s.repo.Replace(ctx, s.kind, id, candidate); err != nil {
		if errors.Is(err, interfaces.ErrNoDocuments) {
			return nil, recorderrors.NewRecordError(s.kind, id, recorderrors.ErrRecordNotFound)
		}
		log.ErrorWithContext(ctx, "failed to replace %s %s: %v", s.kind, id, err)
		return nil, err
	}

	s.invalidateLookups(ctx, id)
	return candidate, nil
}

// invalidateLookups drops cached lookups, which may hold the old version of id.
func (s *recordService) invalidateLookups(ctx context.Context, id string) {
	if err := s.cache.InvalidatePattern(ctx, lookupPattern); err != nil && !errors.Is(err, cache.ErrCacheDisabled) {
		log.WarnWithContext(ctx, "failed to invalidate lookups after writing %s %s: %v", s.kind, id, err)
	}
}

func (s *recordService) check(ctx context.Context, candidate value.Object) error {
	if err := s.checker.CheckUniqueness(ctx, s.kind, candidate); err != nil {
		return err
	}
	return s.checker.CheckLimits(ctx, s.kind, candidate)
}

// applyDefaults fills the policy defaults that candidate leaves unset.
func (s *recordService) applyDefaults(candidate value.Object, now time.Time) {
	if missing(candidate[FieldKind]) && s.policy.DefaultKind != "" {
		candidate[FieldKind] = value.String(s.policy.DefaultKind)
	}
	if missing(candidate[FieldVisibility]) {
		candidate[FieldVisibility] = value.String(DefaultVisibility)
	}
	if missing(candidate[FieldSlug]) {
		if name, ok := candidate[FieldName].(value.String); ok {
			if slug := Slugify(string(name)); slug != "" {
				candidate[FieldSlug] = value.String(slug)
			}
		}
	}
	if s.policy.AutoApprove && missing(candidate[FieldValidFromDateTime]) {
		if created, ok := candidate[FieldCreatedDateTime]; ok {
			candidate[FieldValidFromDateTime] = created
		} else {
			candidate[FieldValidFromDateTime] = value.Date(now)
		}
	}
}

// idempotencyKey hashes the configured fields of candidate. It reports false
// when the kind has no idempotency fields.
func (s *recordService) idempotencyKey(candidate value.Object) (string, bool, error) {
	if len(s.policy.IdempotencyFields) == 0 {
		return "", false, nil
	}
	parts := make(value.Array, len(s.policy.IdempotencyFields))
	for i, path := range s.policy.IdempotencyFields {
		parts[i] = candidate.Get(path)
	}
	raw, err := value.MarshalValue(parts)
	if err != nil {
		return "", false, err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), true, nil
}

// replay returns the record already stored under key, or nil.
func (s *recordService) replay(ctx context.Context, key string) (value.Object, error) {
	var id string
	if err := s.cache.GetCached(ctx, s.idempotencyCacheKey(key), &id); err == nil {
		record, err := s.repo.FindByID(ctx, s.kind, id)
		if err == nil && value.Format(record[FieldIdempotencyKey]) == key {
			return record, nil
		}
		if err != nil && !errors.Is(err, interfaces.ErrNoDocuments) {
			return nil, err
		}
	}

	record, err := s.repo.FindOne(ctx, s.kind, filter.Eq(FieldIdempotencyKey, key))
	if err != nil {
		if errors.Is(err, interfaces.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// claim reserves key for the duration of one write. Without a cache backend
// concurrent writers are not serialized.
func (s *recordService) claim(ctx context.Context, key, id string) (func(), error) {
	lockKey := s.idempotencyCacheKey(key) + ":lock"
	won, err := s.cache.Claim(ctx, lockKey, id, claimTTL)
	switch {
	case errors.Is(err, cache.ErrCacheDisabled):
		return func() {}, nil
	case err != nil:
		log.WarnWithContext(ctx, "idempotency claim for %s %s failed, writing unguarded: %v", s.kind, id, err)
		return func() {}, nil
	case !won:
		return nil, recorderrors.NewRecordError(s.kind, id, recorderrors.ErrIdempotencyInFlight)
	}
	return func() {
		if err := s.cache.InvalidateKey(context.WithoutCancel(ctx), lockKey); err != nil {
			log.WarnWithContext(ctx, "failed to release idempotency claim %s: %v", lockKey, err)
		}
	}, nil
}

func (s *recordService) idempotencyCacheKey(key string) string {
	return "idempotency:" + s.kind.String() + ":" + key
}

// Slugify lower-cases s and collapses every run of other characters into '-'.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

func missing(v value.Value) bool {
	if value.IsUndefined(v) || value.IsNull(v) {
		return true
	}
	s, ok := v.(value.String)
	return ok && s == ""
}

func copyObject(o value.Object) value.Object {
	out := make(value.Object, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

func newUUID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
