package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"blacklist/internal/config"
)

const (
	secudiumLoginPath  = "/api/login"
	secudiumBoardPath  = "/api/secure/board/threats"
	secudiumDateLayout = "2006-01-02"
)

// SecudiumAdapter talks to a JSON API portal: login yields a bearer token,
// the board endpoint returns structured pages. Bulk downloads occasionally
// come back as spreadsheet attachments, which classifyResponse handles.
type SecudiumAdapter struct {
	source config.Source
}

func NewSecudiumAdapter(source config.Source) *SecudiumAdapter {
	return &SecudiumAdapter{source: source}
}

func (a *SecudiumAdapter) Name() string { return a.source.Name }

func (a *SecudiumAdapter) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: requestTimeout()}

	payload, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.source.BaseURL+secudiumLoginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Source: a.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Source: a.Name(), Err: fmt.Errorf("login rejected: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{Source: a.Name(), Err: fmt.Errorf("unexpected login status %d", resp.StatusCode)}
	}

	var loginResp struct {
		Token   string `json:"token"`
		Result  string `json:"result"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return nil, &NetworkError{Source: a.Name(), Err: fmt.Errorf("decode login response: %w", err)}
	}
	if loginResp.Token == "" {
		return nil, &AuthError{Source: a.Name(), Err: fmt.Errorf("no token issued: %s", loginResp.Message)}
	}

	return &Session{
		Client:    client,
		Token:     loginResp.Token,
		Source:    a.Name(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (a *SecudiumAdapter) Fetch(ctx context.Context, session *Session, dateRange DateRange, page int) (RawPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.source.BaseURL+secudiumBoardPath, nil)
	if err != nil {
		return RawPayload{}, err
	}

	query := req.URL.Query()
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(pageSize()))
	query.Set("from", dateRange.Start.Format(secudiumDateLayout))
	query.Set("to", dateRange.End.Format(secudiumDateLayout))
	req.URL.RawQuery = query.Encode()

	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := session.Client.Do(req)
	if err != nil {
		return RawPayload{}, &NetworkError{Source: a.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return RawPayload{}, &AuthError{Source: a.Name(), Err: fmt.Errorf("token expired: status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return RawPayload{}, &NetworkError{Source: a.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	payload, err := classifyResponse(resp)
	if err != nil {
		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			return RawPayload{}, err
		}
		return RawPayload{}, &NetworkError{Source: a.Name(), Err: err}
	}
	return payload, nil
}
