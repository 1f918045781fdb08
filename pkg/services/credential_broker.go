package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/connectors"
	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// CredentialDecryptionError means stored ciphertext exists but cannot be turned back
// into a credential bag: it is corrupt, or it was sealed with a different key.
type CredentialDecryptionError struct {
	ConfigID int64
	Cause    error
}

func (e *CredentialDecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt credentials of configuration %d: %v", e.ConfigID, e.Cause)
}

func (e *CredentialDecryptionError) Unwrap() error {
	return e.Cause
}

// CredentialBroker turns stored ciphertext into credential bags and back.
type CredentialBroker interface {
	// LoadCredentials returns (nil, nil) when nothing is stored.
	// Any decrypt or decode failure is a *CredentialDecryptionError.
	LoadCredentials(ctx context.Context, cfg *models.IntegrationConfiguration) (connectors.Credentials, error)

	// StoreCredentials encrypts a bag for persistence. An empty bag yields "".
	StoreCredentials(cfg *models.IntegrationConfiguration, creds connectors.Credentials) (string, error)
}

type credentialBroker struct {
	encryptor crypto.Encryptor
	logger    *zap.Logger
}

// NewCredentialBroker creates a credential broker on top of encryptor.
func NewCredentialBroker(encryptor crypto.Encryptor, logger *zap.Logger) CredentialBroker {
	return &credentialBroker{
		encryptor: encryptor,
		logger:    logger.Named("credential-broker"),
	}
}

var _ CredentialBroker = (*credentialBroker)(nil)

func (b *credentialBroker) LoadCredentials(_ context.Context, cfg *models.IntegrationConfiguration) (connectors.Credentials, error) {
	if !cfg.HasCredentials() {
		return nil, nil
	}

	bag, err := crypto.DecryptBag(b.encryptor, *cfg.EncryptedCredentials)
	if err != nil {
		b.logger.Warn("Failed to decrypt integration credentials",
			zap.Int64("config_id", cfg.ID),
			zap.String("integration_type", cfg.IntegrationType),
			zap.Error(err))
		return nil, &CredentialDecryptionError{ConfigID: cfg.ID, Cause: err}
	}
	if len(bag) == 0 {
		return nil, nil
	}
	return connectors.Credentials(bag), nil
}

func (b *credentialBroker) StoreCredentials(cfg *models.IntegrationConfiguration, creds connectors.Credentials) (string, error) {
	ciphertext, err := crypto.EncryptBag(b.encryptor, creds)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt credentials of configuration %d: %w", cfg.ID, err)
	}
	return ciphertext, nil
}
