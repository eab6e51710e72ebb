package ai

import (
	"context"
	"iter"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/config"
	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/service/prompt"
)

// Provider лениво создаёт клиента модели при первом обращении и переиспользует его.
// Одновременные первые обращения разделяют одну инициализацию; неудачная инициализация
// не кешируется, следующий запрос попробует снова.
type Provider struct {
	cfg     config.OpenAIConfig
	mock    bool
	secrets SecretSource
	log     *zap.SugaredLogger

	group singleflight.Group

	mu     sync.Mutex
	client Client
}

// NewProvider создаёт провайдера. secrets может быть nil — тогда при необходимости
// будет создан источник AWS Secrets Manager.
func NewProvider(cfg *config.Config, secrets SecretSource, log *zap.SugaredLogger) *Provider {
	return &Provider{
		cfg:     cfg.OpenAI,
		mock:    cfg.Mock(),
		secrets: secrets,
		log:     log,
	}
}

// Client возвращает готового клиента, создавая его при первом вызове.
func (p *Provider) Client(ctx context.Context) (Client, error) {
	if c := p.cached(); c != nil {
		return c, nil
	}
	v, err, _ := p.group.Do("client", func() (any, error) {
		if c := p.cached(); c != nil {
			return c, nil
		}
		// инициализация общая для всех ждущих, отмена одного запроса не должна её рвать
		c, err := p.build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.client = c
		p.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Client), nil
}

func (p *Provider) cached() Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Provider) build(ctx context.Context) (Client, error) {
	switch {
	case p.mock:
		p.log.Infow("Using mock model client")
		return NewMockClient(), nil
	case p.cfg.APIKey != "":
		p.log.Infow("Using OpenAI client", "source", "env", "model", p.cfg.Model)
		return NewOpenAIClient(p.cfg.APIKey, p.cfg), nil
	case p.cfg.SecretID == "":
		return nil, ErrProviderUnconfigured
	}

	src := p.secrets
	if src == nil {
		sm, err := NewSecretsManagerSource(ctx)
		if err != nil {
			return nil, err
		}
		src = sm
	}
	secret, err := src.SecretString(ctx, p.cfg.SecretID)
	if err != nil {
		return nil, err
	}
	key, err := KeyFromSecret(secret)
	if err != nil {
		return nil, err
	}
	p.log.Infow("Using OpenAI client", "source", "secret", "model", p.cfg.Model)
	return NewOpenAIClient(key, p.cfg), nil
}

// Complete реализует Client поверх лениво созданного клиента.
func (p *Provider) Complete(ctx context.Context, msgs []prompt.Message) (string, error) {
	c, err := p.Client(ctx)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, msgs)
}

// Stream реализует Client; ошибка инициализации приходит первым и единственным элементом.
func (p *Provider) Stream(ctx context.Context, msgs []prompt.Message) iter.Seq2[string, error] {
	c, err := p.Client(ctx)
	if err != nil {
		return failed(err)
	}
	return c.Stream(ctx, msgs)
}
