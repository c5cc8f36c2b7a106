package credentials

import (
	"context"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"

	"github.com/example/semrel/internal/appconfig"
)

type vaultProvider struct {
	client     *vault.Client
	mount      string
	kvVersion  int
	defaultKey string
	login      vaultLogin

	loginOnce sync.Once
	loginErr  error
}

func newVaultProvider(cfg appconfig.SecretProvider) (*vaultProvider, error) {
	address := strings.TrimSpace(cfg.Address)
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	login, err := newVaultLogin(cfg)
	if err != nil {
		return nil, err
	}
	apiCfg := vault.DefaultConfig()
	apiCfg.Address = address
	client, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, err
	}
	if ns := strings.TrimSpace(cfg.Namespace); ns != "" {
		client.SetNamespace(ns)
	}
	if login.method == vaultAuthToken {
		client.SetToken(login.token)
	}
	mount := strings.Trim(strings.TrimSpace(cfg.Mount), "/")
	if mount == "" {
		mount = "secret"
	}
	kv := cfg.KVVersion
	if kv == 0 {
		kv = 2
	}
	if kv != 1 && kv != 2 {
		return nil, fmt.Errorf("vault kvVersion must be 1 or 2")
	}
	return &vaultProvider{
		client:     client,
		mount:      mount,
		kvVersion:  kv,
		defaultKey: strings.TrimSpace(cfg.Key),
		login:      login,
	}, nil
}

func (p *vaultProvider) Resolve(ctx context.Context, secretPath string) (string, error) {
	path, key, _ := strings.Cut(strings.TrimSpace(secretPath), "#")
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("vault secret path is required")
	}
	if err := p.authenticate(ctx); err != nil {
		return "", err
	}
	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}
	if key = strings.TrimSpace(key); key == "" {
		key = p.defaultKey
	}
	return pickValue(data, key)
}

func (p *vaultProvider) authenticate(ctx context.Context) error {
	if p.login.method == vaultAuthToken {
		return nil
	}
	p.loginOnce.Do(func() {
		token, err := p.login.run(ctx, p.client)
		if err != nil {
			p.loginErr = fmt.Errorf("vault %s login: %w", p.login.method, err)
			return
		}
		p.client.SetToken(token)
	})
	return p.loginErr
}

func (p *vaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	if p.kvVersion == 1 {
		secret, err := p.client.Logical().ReadWithContext(ctx, p.mount+"/"+path)
		if err != nil {
			return nil, err
		}
		if secret == nil || secret.Data == nil {
			return nil, fmt.Errorf("vault secret %q not found", path)
		}
		return secret.Data, nil
	}
	secret, err := p.client.KVv2(p.mount).Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %q not found", path)
	}
	return secret.Data, nil
}

// pickValue selects key, then "value", then the only entry of data.
func pickValue(data map[string]any, key string) (string, error) {
	for _, candidate := range []string{key, "value"} {
		if candidate == "" {
			continue
		}
		if v, ok := data[candidate]; ok {
			return asString(v)
		}
	}
	if len(data) == 1 {
		for _, v := range data {
			return asString(v)
		}
	}
	if key == "" {
		return "", fmt.Errorf("secret value is ambiguous; specify a #key")
	}
	return "", fmt.Errorf("secret key %q not found", key)
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	default:
		return "", fmt.Errorf("secret value must be a string")
	}
}
