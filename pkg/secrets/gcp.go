// Package secrets loads broker and API credentials from GCP Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// Getter fetches a secret by name. GCPSecretManager is the production
// implementation.
type Getter interface {
	GetSecret(ctx context.Context, secretName string) (string, error)
}

type GCPSecretManager struct {
	client    *secretmanager.Client
	projectID string
	logger    *logrus.Logger
}

// NewGCPSecretManager connects with application default credentials, or with
// the service account key at credentialsFile when one is given.
func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	req := &secretmanagerpb.AccessSecretVersionRequest{
		Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName),
	}

	result, err := g.client.AccessSecretVersion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}

	return strings.TrimSpace(string(result.Payload.Data)), nil
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}

// GetWithDefault returns the secret, or defaultValue when it cannot be read.
func GetWithDefault(ctx context.Context, g Getter, secretName, defaultValue string, logger *logrus.Logger) string {
	if secretName == "" {
		return defaultValue
	}
	value, err := g.GetSecret(ctx, secretName)
	if err != nil {
		logger.WithError(err).WithField("secret", secretName).Debug("Failed to get secret, using default")
		return defaultValue
	}
	return strings.TrimSpace(value)
}

type SecretNames struct {
	IBKRAccountID       string `mapstructure:"ibkr_account_id"`
	DeribitClientID     string `mapstructure:"deribit_client_id"`
	DeribitClientSecret string `mapstructure:"deribit_client_secret"`
	JWTSecret           string `mapstructure:"jwt_secret"`
	DatabaseDSN         string `mapstructure:"database_dsn"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		IBKRAccountID:       "ibkr-account-id",
		DeribitClientID:     "deribit-client-id",
		DeribitClientSecret: "deribit-client-secret",
		JWTSecret:           "coveredcalls-jwt-secret",
		DatabaseDSN:         "coveredcalls-database-dsn",
	}
}
