package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nextlevelbuilder/walink/internal/config"
)

var (
	serverURL string
	apiToken  string
)

// apiCall sends a JSON request to the running server and decodes the JSON
// response into out. Non-2xx responses are returned as errors carrying the
// server's error code.
func apiCall(method, path string, body, out any) error {
	base, token, err := apiTarget()
	if err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connect to walink at %s: %w", base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Message != "" {
				return fmt.Errorf("%s (%d): %s", apiErr.Error, resp.StatusCode, apiErr.Message)
			}
			return fmt.Errorf("%s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// apiTarget resolves the server base URL and token from flags, falling
// back to the local config file.
func apiTarget() (string, string, error) {
	base, token := serverURL, apiToken
	if base != "" && token != "" {
		return base, token, nil
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", "", fmt.Errorf("load config: %w", err)
	}
	if token == "" {
		token = cfg.Server.Token
	}
	if base == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		u := url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", host, cfg.Server.Port)}
		base = u.String()
	}
	return base, token, nil
}
