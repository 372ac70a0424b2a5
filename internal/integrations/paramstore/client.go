// Package paramstore loads service keys kept as SecureString parameters in
// SSM Parameter Store. Each parameter holds {"token": "..."}.
package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"receipt-agent/internal/domain"
)

// Parameter names under the configured prefix.
const (
	APIKeyName      = "mnx-api-key"
	ProviderKeyName = "provider-key"
)

// ErrNotFound is returned when the named parameter does not exist.
var ErrNotFound = errors.New("paramstore: parameter not found")

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Client resolves credentials from parameters under one prefix, such as
// /receipt-agent/mnx-api-key.
type Client struct {
	api    ssmAPI
	prefix string
}

func New(api ssmAPI, prefix string) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("paramstore: parameter prefix must not be empty")
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &Client{api: api, prefix: prefix}, nil
}

// Credentials reads the service key and, when present, the provider key.
func (c *Client) Credentials(ctx context.Context) (domain.Credentials, error) {
	key, err := c.GetToken(ctx, APIKeyName)
	if err != nil {
		return domain.Credentials{}, err
	}
	provider, err := c.GetToken(ctx, ProviderKeyName)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return domain.Credentials{}, err
	}
	return domain.Credentials{APIKey: key, SecondaryKey: provider}, nil
}

// GetToken fetches <prefix>/<name> and returns the token it stores.
func (c *Client) GetToken(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	path := c.prefix + "/" + name

	withDecryption := true
	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &path,
		WithDecryption: &withDecryption,
	})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%w: %q", ErrNotFound, path)
		}
		return "", fmt.Errorf("paramstore: get parameter %q: %w", path, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", path)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(*out.Parameter.Value), &payload); err != nil {
		return "", fmt.Errorf("paramstore: %q is not a token document: %w", path, err)
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		return "", fmt.Errorf("paramstore: token in %q is empty", path)
	}
	return token, nil
}
