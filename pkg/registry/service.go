package registry

import (
	"context"

	"github.com/joeydtaylor/steeze-functions/pkg/cache"
	"github.com/joeydtaylor/steeze-functions/pkg/function"
	"github.com/joeydtaylor/steeze-functions/pkg/store"
	"go.uber.org/zap"
)

// SyntaxChecker rejects code a runtime could not compile. The returned error
// is reported to the caller as a validation failure.
type SyntaxChecker interface {
	CheckSyntax(filename, code string) error
}

// Service validates and applies registry writes.
type Service struct {
	store   store.Store
	tier    cache.Tier
	checker SyntaxChecker
	log     *zap.Logger
}

func NewService(st store.Store, tier cache.Tier, checker SyntaxChecker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, tier: tier, checker: checker, log: log.Named("registry")}
}

func (s *Service) check(ref function.Ref, code string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if s.checker == nil {
		return nil
	}
	if err := s.checker.CheckSyntax(ref.Filename(), code); err != nil {
		return &function.Error{Kind: function.ErrValidation, Ref: ref, Err: err}
	}
	return nil
}

func validateEnv(env map[string]string) error {
	for name := range env {
		if err := function.ValidateName("env", name); err != nil {
			return err
		}
	}
	return nil
}

// Create stores a new entry. An existing identity is a conflict and is left
// unchanged.
func (s *Service) Create(ctx context.Context, ref function.Ref, code string, env map[string]string) (*function.Entry, error) {
	if err := s.check(ref, code); err != nil {
		return nil, err
	}
	if err := validateEnv(env); err != nil {
		return nil, err
	}

	e := function.NewEntry(ref, code, env, nil)
	created, err := s.store.Create(ctx, ref.Namespace, ref.ID, e)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, &function.Error{Kind: function.ErrConflict, Ref: ref, Msg: "already exists"}
	}
	s.log.Info("function created", zap.String("ref", ref.String()), zap.String("hash", e.Hash))
	return &e, nil
}

// Upsert overwrites code and hash. env and exposed are only replaced when
// non-nil; the returned entry reflects what was stored.
func (s *Service) Upsert(ctx context.Context, ref function.Ref, code string, env map[string]string, exposed *bool) (*function.Entry, error) {
	if err := s.check(ref, code); err != nil {
		return nil, err
	}
	if err := validateEnv(env); err != nil {
		return nil, err
	}

	e := function.NewEntry(ref, code, env, exposed)
	if err := s.store.Upsert(ctx, ref.Namespace, ref.ID, e); err != nil {
		return nil, err
	}
	s.log.Info("function stored", zap.String("ref", ref.String()), zap.String("hash", e.Hash))

	stored, err := s.store.Get(ctx, ref.Namespace, ref.ID)
	if err != nil || stored == nil {
		return &e, nil
	}
	return stored, nil
}

// Get reads the primary store directly; a missing entry is ErrNotFound.
func (s *Service) Get(ctx context.Context, ref function.Ref) (*function.Entry, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	e, err := s.store.Get(ctx, ref.Namespace, ref.ID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, function.NotFound(ref)
	}
	return e, nil
}

// Delete is idempotent. The cached copy is dropped too, so a later entry
// under the same identity never meets an orphaned handle.
func (s *Service) Delete(ctx context.Context, ref function.Ref) (int, error) {
	if err := ref.Validate(); err != nil {
		return 0, err
	}
	n, err := s.store.Delete(ctx, ref.Namespace, ref.ID)
	if err != nil {
		return 0, err
	}
	if err := s.tier.Invalidate(ctx, ref.Namespace, ref.ID); err != nil {
		s.log.Warn("cache invalidate failed", zap.String("ref", ref.String()), zap.Error(err))
	}
	if n > 0 {
		s.log.Info("function deleted", zap.String("ref", ref.String()))
	}
	return n, nil
}

func (s *Service) SetEnv(ctx context.Context, ref function.Ref, name, value string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := function.ValidateName("env", name); err != nil {
		return err
	}
	return s.store.SetEnv(ctx, ref.Namespace, ref.ID, name, value)
}

func (s *Service) DeleteEnv(ctx context.Context, ref function.Ref, name string) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := function.ValidateName("env", name); err != nil {
		return err
	}
	return s.store.DeleteEnv(ctx, ref.Namespace, ref.ID, name)
}

func (s *Service) List(ctx context.Context, page, perPage int) (function.NamespacePage, error) {
	return s.store.ListNamespaces(ctx, page, perPage)
}

// Ping checks the primary store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }
