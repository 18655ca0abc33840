package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zulandar/dronehub/internal/config"
)

// apiClient talks to a running hub over its HTTP API.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// clientFlags are the connection flags shared by every client command.
type clientFlags struct {
	hubURL string
	token  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.hubURL, "hub", "http://127.0.0.1:7700", "hub base URL")
	cmd.Flags().StringVar(&f.token, "token", "", "hub auth token (default: $DRONEHUB_TOKEN, then config file)")
}

// newClient resolves the auth token from the flag, the environment, the
// config file, or an interactive prompt, in that order.
func (f *clientFlags) newClient() (*apiClient, error) {
	token := f.token
	if token == "" {
		token = os.Getenv("DRONEHUB_TOKEN")
	}
	if token == "" {
		if path, err := config.DefaultPath(); err == nil {
			if cfg, err := config.Load(path); err == nil {
				token = cfg.Token
			}
		}
	}
	if token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Hub token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read token: %w", err)
		}
		token = string(raw)
	}
	if token == "" {
		return nil, fmt.Errorf("no hub token: pass --token or set DRONEHUB_TOKEN")
	}
	return &apiClient{
		base:  f.hubURL,
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// apiError is the hub's {ok:false} error body.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// do issues one API request. body (when non-nil) is JSON-encoded; the
// response is decoded into out (when non-nil). Non-2xx responses become
// errors carrying the hub's message and code.
func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hub at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Code != "" {
				return fmt.Errorf("%s [%s]", apiErr.Error, apiErr.Code)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("hub returned %s", resp.Status)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *apiClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) delete(path string, out interface{}) error {
	return c.do(http.MethodDelete, path, nil, out)
}
