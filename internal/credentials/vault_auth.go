package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	vault "github.com/hashicorp/vault/api"

	"github.com/example/semrel/internal/appconfig"
)

const (
	vaultAuthToken      = "token"
	vaultAuthAppRole    = "approle"
	vaultAuthKubernetes = "kubernetes"
	vaultAuthAWS        = "aws"

	defaultServiceAccountTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	stsBody                        = "Action=GetCallerIdentity&Version=2011-06-15"
)

// vaultLogin holds what one auth method needs to obtain a client token.
type vaultLogin struct {
	method string
	mount  string

	token     string
	roleID    string
	secretID  string
	role      string
	tokenPath string
	region    string
	serverID  string
}

func newVaultLogin(cfg appconfig.SecretProvider) (vaultLogin, error) {
	l := vaultLogin{
		token:     strings.TrimSpace(cfg.Token),
		roleID:    strings.TrimSpace(cfg.RoleID),
		secretID:  strings.TrimSpace(cfg.SecretID),
		tokenPath: strings.TrimSpace(cfg.KubernetesTokenPath),
		region:    strings.TrimSpace(cfg.AWSRegion),
		serverID:  strings.TrimSpace(cfg.AWSHeaderValue),
	}
	switch strings.ToLower(strings.TrimSpace(cfg.AuthMethod)) {
	case "":
		switch {
		case l.token != "":
			l.method = vaultAuthToken
		case l.roleID != "" || l.secretID != "":
			l.method = vaultAuthAppRole
		case strings.TrimSpace(cfg.KubernetesRole) != "":
			l.method = vaultAuthKubernetes
		case strings.TrimSpace(cfg.AWSRole) != "":
			l.method = vaultAuthAWS
		default:
			l.method = vaultAuthToken
		}
	case "token":
		l.method = vaultAuthToken
	case "approle", "app-role", "app_role":
		l.method = vaultAuthAppRole
	case "kubernetes", "k8s":
		l.method = vaultAuthKubernetes
	case "aws", "aws-iam", "iam":
		l.method = vaultAuthAWS
	default:
		return vaultLogin{}, fmt.Errorf("vault auth method %q is not supported", cfg.AuthMethod)
	}

	switch l.method {
	case vaultAuthToken:
		if l.token == "" {
			l.token = strings.TrimSpace(os.Getenv("VAULT_TOKEN"))
		}
		if l.token == "" {
			return vaultLogin{}, fmt.Errorf("vault token is required")
		}
	case vaultAuthAppRole:
		if l.roleID == "" || l.secretID == "" {
			return vaultLogin{}, fmt.Errorf("vault approle auth requires roleId and secretId")
		}
	case vaultAuthKubernetes:
		l.role = strings.TrimSpace(cfg.KubernetesRole)
		if l.role == "" {
			return vaultLogin{}, fmt.Errorf("vault kubernetes auth requires kubernetesRole")
		}
		if l.tokenPath == "" {
			l.tokenPath = defaultServiceAccountTokenPath
		}
	case vaultAuthAWS:
		l.role = strings.TrimSpace(cfg.AWSRole)
		if l.role == "" {
			return vaultLogin{}, fmt.Errorf("vault aws auth requires awsRole")
		}
	}
	l.mount = strings.Trim(strings.TrimSpace(cfg.AuthMount), "/")
	if l.mount == "" && l.method != vaultAuthToken {
		l.mount = l.method
	}
	return l, nil
}

// run performs the login and returns the client token.
func (l vaultLogin) run(ctx context.Context, client *vault.Client) (string, error) {
	var payload map[string]any
	switch l.method {
	case vaultAuthAppRole:
		payload = map[string]any{"role_id": l.roleID, "secret_id": l.secretID}
	case vaultAuthKubernetes:
		raw, err := os.ReadFile(l.tokenPath)
		if err != nil {
			return "", fmt.Errorf("read service account token: %w", err)
		}
		jwt := strings.TrimSpace(string(raw))
		if jwt == "" {
			return "", fmt.Errorf("service account token %s is empty", l.tokenPath)
		}
		payload = map[string]any{"role": l.role, "jwt": jwt}
	case vaultAuthAWS:
		p, err := l.awsPayload(ctx)
		if err != nil {
			return "", err
		}
		payload = p
	default:
		return l.token, nil
	}
	secret, err := client.Logical().WriteWithContext(ctx, "auth/"+l.mount+"/login", payload)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
		return "", fmt.Errorf("no client token returned")
	}
	return secret.Auth.ClientToken, nil
}

// awsPayload signs an sts:GetCallerIdentity request for Vault's aws iam auth.
func (l vaultLogin) awsPayload(ctx context.Context) (map[string]any, error) {
	region := l.region
	for _, env := range []string{"AWS_REGION", "AWS_DEFAULT_REGION"} {
		if region != "" {
			break
		}
		region = strings.TrimSpace(os.Getenv(env))
	}
	if region == "" {
		return nil, fmt.Errorf("aws region is required (set awsRegion or AWS_REGION)")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrieve aws credentials: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://sts.amazonaws.com/", strings.NewReader(stsBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	req.Header.Set("Host", "sts.amazonaws.com")
	if l.serverID != "" {
		req.Header.Set("X-Vault-AWS-IAM-Server-ID", l.serverID)
	}
	sum := sha256.Sum256([]byte(stsBody))
	if err := v4.NewSigner().SignHTTP(ctx, creds, req, hex.EncodeToString(sum[:]), "sts", region, time.Now()); err != nil {
		return nil, fmt.Errorf("sign sts request: %w", err)
	}
	headers := map[string][]string{}
	for k, v := range req.Header {
		headers[k] = v
	}
	headers["Host"] = []string{req.Host}
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	enc := base64.StdEncoding.EncodeToString
	return map[string]any{
		"role":                    l.role,
		"iam_http_request_method": req.Method,
		"iam_request_url":         enc([]byte(req.URL.String())),
		"iam_request_body":        enc([]byte(stsBody)),
		"iam_request_headers":     enc(headerJSON),
	}, nil
}
