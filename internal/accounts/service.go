// Package accounts registers billing identities and resolves API keys to them.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/security"
)

const invalidKeyMessage = "invalid api key"

// lastUsedResolution bounds how often a busy key rewrites last_used_at.
const lastUsedResolution = time.Minute

// Service defines account operations used by the API and the admin CLI.
type Service interface {
	Register(ctx context.Context, email string) (*Registration, error)
	RotateKey(ctx context.Context, accountID uuid.UUID) (string, error)
	Authenticate(ctx context.Context, apiKey string) (*models.Account, error)
	Get(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	Suspend(ctx context.Context, accountID uuid.UUID) error
	Activate(ctx context.Context, accountID uuid.UUID) error
}

// Registration carries the only copy of a freshly issued API key.
type Registration struct {
	Account *models.Account
	APIKey  string
}

type accountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByAPIKeyPrefix(ctx context.Context, prefix string) (*models.Account, error)
	UpdateAPIKey(ctx context.Context, id uuid.UUID, prefix, hash string) error
	SetStatus(ctx context.Context, id uuid.UUID, status enums.AccountStatus) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
}

type service struct {
	repo   accountRepository
	keyCfg config.APIKeyConfig
	logg   *logger.Logger
	now    func() time.Time
}

// ServiceParams bundles the dependencies required to build an account service.
type ServiceParams struct {
	Repo         accountRepository
	APIKeyConfig config.APIKeyConfig
	Logger       *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("account repository is required")
	}
	return &service{
		repo:   params.Repo,
		keyCfg: params.APIKeyConfig,
		logg:   params.Logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Register(ctx context.Context, email string) (*Registration, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(normalized); err != nil || normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid email is required")
	}

	issued, err := security.GenerateAPIKey(s.keyCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue api key")
	}

	account := &models.Account{
		Email:        normalized,
		Status:       enums.AccountStatusActive,
		APIKeyPrefix: issued.Lookup,
		APIKeyHash:   issued.Hash,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create account")
	}

	return &Registration{Account: account, APIKey: issued.Plaintext}, nil
}

func (s *service) RotateKey(ctx context.Context, accountID uuid.UUID) (string, error) {
	issued, err := security.GenerateAPIKey(s.keyCfg)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue api key")
	}
	if err := s.repo.UpdateAPIKey(ctx, accountID, issued.Lookup, issued.Hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rotate api key")
	}
	return issued.Plaintext, nil
}

// Authenticate resolves apiKey to an active account. Unknown, malformed and
// mismatched keys are indistinguishable to the caller.
func (s *service) Authenticate(ctx context.Context, apiKey string) (*models.Account, error) {
	prefix, err := security.LookupPrefix(apiKey)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidKeyMessage)
	}

	account, err := s.repo.FindByAPIKeyPrefix(ctx, prefix)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidKeyMessage)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup api key")
	}

	ok, err := security.VerifyAPIKey(strings.TrimSpace(apiKey), account.APIKeyHash)
	if err != nil || !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidKeyMessage)
	}
	if account.Status != enums.AccountStatusActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "account is not active")
	}

	now := s.now()
	if account.LastUsedAt == nil || now.Sub(*account.LastUsedAt) >= lastUsedResolution {
		if err := s.repo.TouchLastUsed(ctx, account.ID, now); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithAccountID(ctx, account.ID.String()), "failed to record api key usage")
		}
	}
	return account, nil
}

func (s *service) Get(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.repo.FindByID(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return account, nil
}

// Suspend blocks every key of the account until it is activated again.
func (s *service) Suspend(ctx context.Context, accountID uuid.UUID) error {
	return s.setStatus(ctx, accountID, enums.AccountStatusSuspended)
}

func (s *service) Activate(ctx context.Context, accountID uuid.UUID) error {
	return s.setStatus(ctx, accountID, enums.AccountStatusActive)
}

func (s *service) setStatus(ctx context.Context, accountID uuid.UUID, status enums.AccountStatus) error {
	err := s.repo.SetStatus(ctx, accountID, status)
	switch {
	case errors.Is(err, ErrNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update account status")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(s.logg.WithAccountID(ctx, accountID.String()), "status", status), "account status changed")
	}
	return nil
}
