package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 15 * time.Second}}
}

// apiError is the server's JSON error body.
type apiError struct {
	Status            int      `json:"-"`
	Message           string   `json:"error"`
	Code              string   `json:"code"`
	Errors            []string `json:"errors"`
	AttemptsRemaining *int     `json:"attempts_remaining"`
	RetryAfter        int      `json:"retry_after"`
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s: %s", e.Status, e.Code, e.Message)
	if len(e.Errors) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Errors, "; "))
	}
	if e.AttemptsRemaining != nil {
		fmt.Fprintf(&b, ", %d attempts left", *e.AttemptsRemaining)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, ", retry in %ds", e.RetryAfter)
	}
	return b.String()
}

type loginResult struct {
	Role        string    `json:"role"`
	Redirect    string    `json:"redirect"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type staffRow struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *apiClient) login(ctx context.Context, username, password string) (*loginResult, error) {
	var out loginResult
	err := c.do(ctx, http.MethodPost, "/login", "", map[string]string{"username": username, "password": password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) staff(ctx context.Context, token string) ([]staffRow, error) {
	var out struct {
		Staff []staffRow `json:"staff"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/staff", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Staff, nil
}

func (c *apiClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(ae)
		return ae
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
