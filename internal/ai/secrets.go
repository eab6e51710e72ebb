package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretSource отдаёт строковое значение секрета по id.
type SecretSource interface {
	SecretString(ctx context.Context, id string) (string, error)
}

// SecretsManagerSource читает секреты из AWS Secrets Manager.
type SecretsManagerSource struct {
	client *secretsmanager.Client
}

// NewSecretsManagerSource использует стандартную цепочку кредов AWS (env, профиль, роль).
func NewSecretsManagerSource(ctx context.Context) (*SecretsManagerSource, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SecretsManagerSource{client: secretsmanager.NewFromConfig(cfg)}, nil
}

func (s *SecretsManagerSource) SecretString(ctx context.Context, id string) (string, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", id, err)
	}
	return aws.ToString(out.SecretString), nil
}

// KeyFromSecret достаёт ключ OpenAI из JSON секрета: поле OPENAI_API_KEY, иначе OPENAI_KEY.
func KeyFromSecret(secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrKeyNotInSecret
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(secret), &fields); err != nil {
		return "", fmt.Errorf("%w: secret is not a JSON object", ErrKeyNotInSecret)
	}
	for _, name := range []string{"OPENAI_API_KEY", "OPENAI_KEY"} {
		if v, ok := fields[name].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	return "", ErrKeyNotInSecret
}
