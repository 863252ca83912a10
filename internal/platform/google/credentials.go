// Package google builds the Drive and Sheets API clients from a service
// account credential blob supplied through the environment.
package google

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const base64Prefix = "base64:"

var (
	ErrMissingCredentials = errors.New("missing env GOOGLE_SERVICE_ACCOUNT_JSON")
	ErrInvalidCredentials = errors.New("invalid GOOGLE_SERVICE_ACCOUNT_JSON (not valid JSON)")
)

// ServiceAccount holds the fields of a service account key needed to mint
// tokens.
type ServiceAccount struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// ParseServiceAccount accepts the credential blob in any of the encodings
// operators use: raw JSON, base64 JSON behind a "base64:" prefix, or JSON
// with escaped newlines or wrapped in a quoted string.
func ParseServiceAccount(raw string) (*ServiceAccount, error) {
	txt := strings.TrimSpace(raw)
	if txt == "" {
		return nil, ErrMissingCredentials
	}

	if strings.HasPrefix(txt, base64Prefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(txt[len(base64Prefix):]))
		if err != nil {
			return nil, fmt.Errorf("decode base64 credentials: %w", err)
		}
		txt = strings.TrimSpace(string(decoded))
	}

	sa, err := decodeServiceAccount(txt)
	if err != nil {
		return nil, err
	}
	if sa.ClientEmail == "" || sa.PrivateKey == "" {
		return nil, fmt.Errorf("service account is missing client_email or private_key")
	}
	return sa, nil
}

func decodeServiceAccount(txt string) (*ServiceAccount, error) {
	candidates := []string{txt, strings.ReplaceAll(txt, `\n`, "\n")}
	if unquoted, err := strconv.Unquote(txt); err == nil {
		candidates = append(candidates, unquoted)
	}

	for _, c := range candidates {
		var sa ServiceAccount
		if err := json.Unmarshal([]byte(c), &sa); err == nil {
			return &sa, nil
		}
	}
	return nil, ErrInvalidCredentials
}
