package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/provider/shopify"
	"github.com/sakif/adprofit/internal/repository"
)

// Encrypter seals provider tokens before they are stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// IntegrationService connects and disconnects provider accounts. Tokens are
// issued elsewhere; this only stores them sealed.
type IntegrationService struct {
	repo   repository.IntegrationRepository
	vault  Encrypter
	logger *slog.Logger
	now    func() time.Time
}

func NewIntegrationService(repo repository.IntegrationRepository, vault Encrypter, logger *slog.Logger) *IntegrationService {
	return &IntegrationService{repo: repo, vault: vault, logger: logger, now: time.Now}
}

type ConnectInput struct {
	Provider    model.Provider `json:"provider"`
	AccessToken string         `json:"access_token"`
	ShopDomain  string         `json:"shop_domain"`
	ExpiresAt   *time.Time     `json:"expires_at"`
}

func (s *IntegrationService) Connect(ctx context.Context, userID string, in ConnectInput) (*model.Integration, error) {
	provider := model.Provider(strings.ToLower(strings.TrimSpace(string(in.Provider))))
	if !provider.Valid() {
		return nil, apperror.ValidationFailed("provider", "provider must be shopify or facebook")
	}
	token := strings.TrimSpace(in.AccessToken)
	if token == "" {
		return nil, apperror.ValidationFailed("access_token", "access_token is required")
	}

	integration := &model.Integration{
		UserID:    userID,
		Provider:  provider,
		ExpiresAt: in.ExpiresAt,
	}
	if provider == model.ProviderShopify {
		domain, err := shopify.NormalizeShopDomain(in.ShopDomain)
		if err != nil {
			return nil, err
		}
		integration.Metadata.ShopDomain = domain
	}

	sealed, err := s.vault.Encrypt(token)
	if err != nil {
		return nil, fmt.Errorf("encrypting token: %w", err)
	}
	integration.AccessToken = sealed

	if err := s.repo.CreateIntegration(ctx, integration); err != nil {
		return nil, fmt.Errorf("creating integration: %w", err)
	}
	s.logger.Info("integration connected",
		slog.String("integration_id", integration.ID),
		slog.String("provider", string(provider)),
	)
	return integration, nil
}

func (s *IntegrationService) List(ctx context.Context, userID string) ([]model.Integration, error) {
	list, err := s.repo.ListIntegrations(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("listing integrations: %w", err)
	}
	return list, nil
}

// Disable soft-removes an integration. Synced rows that reference it stay.
func (s *IntegrationService) Disable(ctx context.Context, userID, id string) error {
	if _, err := s.repo.GetIntegration(ctx, userID, id); err != nil {
		return err
	}
	if err := s.repo.DisableIntegration(ctx, userID, id, s.now().UTC()); err != nil {
		return fmt.Errorf("disabling integration: %w", err)
	}
	s.logger.Info("integration disabled", slog.String("integration_id", id))
	return nil
}
