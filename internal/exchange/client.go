package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"coinsentry/internal/config"
	"coinsentry/internal/logger"
)

// Client talks to an Upbit-compatible REST API.
type Client struct {
	baseURL    string
	accessKey  string
	secretKey  string
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		baseURL:   cfg.Exchange.BaseURL,
		accessKey: cfg.Exchange.AccessKey,
		secretKey: cfg.Exchange.SecretKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body map[string]string, auth bool, out any) error {
	var bodyReader io.Reader
	query := params.Encode()

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
		// Upbit signs the body fields as a query string.
		form := url.Values{}
		for k, v := range body {
			form.Set(k, v)
		}
		query = form.Encode()
	}

	urlStr := c.baseURL + path
	if len(params) > 0 {
		urlStr += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if auth {
		token, err := c.signToken(query)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Name    string `json:"name"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("exchange error %s: %s (%s)", resp.Status, apiErr.Error.Message, apiErr.Error.Name)
		}
		return fmt.Errorf("exchange returned status %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// signToken builds the HS256-signed JWT the exchange expects: the payload
// carries the access key, a nonce and, for parameterized requests, a SHA512
// hash of the query string.
func (c *Client) signToken(query string) (string, error) {
	payload := map[string]string{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		sum := sha512.Sum512([]byte(query))
		payload["query_hash"] = hex.EncodeToString(sum[:])
		payload["query_hash_alg"] = "SHA512"
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	claims := base64.RawURLEncoding.EncodeToString(payloadJSON)

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(header + "." + claims))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return header + "." + claims + "." + sig, nil
}
