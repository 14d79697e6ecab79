package service

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
	"github.com/scriptfleet/fleet-server-go/internal/util"
)

type AccountService struct {
	accountRepo repository.AccountRepository
}

func NewAccountService(accountRepo repository.AccountRepository) *AccountService {
	return &AccountService{accountRepo: accountRepo}
}

// Provision creates an account and issues its API token. Only the sha256 of
// the token is stored; the plaintext is returned exactly once.
func (s *AccountService) Provision(ctx context.Context, username string, role model.AccountRole, rateLimitPerMin int) (*model.Account, string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, "", apperrors.MissingRequired("username")
	}
	if role == "" {
		role = model.RoleCustomer
	}

	existing, err := s.accountRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("find account: %w", err)
	}
	if existing != nil {
		return nil, "", apperrors.AlreadyExists("account")
	}

	token, err := util.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}

	account, err := s.accountRepo.Create(ctx, model.CreateAccountParams{
		Username:        username,
		TokenHash:       util.HashToken(token),
		Role:            role,
		RateLimitPerMin: rateLimitPerMin,
	})
	if err != nil {
		return nil, "", fmt.Errorf("create account: %w", err)
	}
	return account, token, nil
}
