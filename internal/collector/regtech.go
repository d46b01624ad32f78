package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"blacklist/internal/config"
)

const (
	regtechLoginFormPath    = "/login/loginForm"
	regtechLoginProcessPath = "/login/loginProcess"
	regtechSearchPath       = "/board/threatBlacklist/search"
	regtechDateLayout       = "20060102"
)

// RegtechAdapter collects from a portal with a classic server-rendered
// login: the form carries hidden one-time tokens that must be scraped from
// the login page and replayed with the credentials.
type RegtechAdapter struct {
	source config.Source
}

func NewRegtechAdapter(source config.Source) *RegtechAdapter {
	return &RegtechAdapter{source: source}
}

func (a *RegtechAdapter) Name() string { return a.source.Name }

func (a *RegtechAdapter) Authenticate(ctx context.Context, creds Credentials) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: requestTimeout()}

	loginPage, err := a.get(ctx, client, a.source.BaseURL+regtechLoginFormPath)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	for name, value := range parseHiddenInputs(loginPage) {
		form.Set(name, value)
	}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.source.BaseURL+regtechLoginProcessPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{Source: a.Name(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Source: a.Name(), Err: err}
	}

	if loginRejected(resp, string(body)) {
		return nil, &AuthError{Source: a.Name(), Err: errors.New("login rejected by portal")}
	}

	return &Session{Client: client, Source: a.Name(), CreatedAt: time.Now().UTC()}, nil
}

func (a *RegtechAdapter) Fetch(ctx context.Context, session *Session, dateRange DateRange, page int) (RawPayload, error) {
	form := url.Values{}
	form.Set("page", strconv.Itoa(page))
	form.Set("startDate", dateRange.Start.Format(regtechDateLayout))
	form.Set("endDate", dateRange.End.Format(regtechDateLayout))
	form.Set("pageSize", strconv.Itoa(pageSize()))

	target := a.source.BaseURL + regtechSearchPath

	if a.source.BrowserFetch {
		rendered, err := FetchRenderedHTML(ctx, target+"?"+form.Encode(), requestTimeout())
		if err != nil {
			return RawPayload{}, &NetworkError{Source: a.Name(), Err: err}
		}
		return RawPayload{Kind: PayloadTabular, HTML: rendered}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return RawPayload{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := session.Client.Do(req)
	if err != nil {
		return RawPayload{}, &NetworkError{Source: a.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return RawPayload{}, &AuthError{Source: a.Name(), Err: fmt.Errorf("session expired: status %d", resp.StatusCode)}
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

func (a *RegtechAdapter) get(ctx context.Context, client *http.Client, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", &NetworkError{Source: a.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &NetworkError{Source: a.Name(), Err: fmt.Errorf("unexpected status %d for %s", resp.StatusCode, target)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &NetworkError{Source: a.Name(), Err: err}
	}
	return string(body), nil
}

// loginRejected recognizes the portal's failure modes: an explicit error
// status, or a bounce back to the login form.
func loginRejected(resp *http.Response, body string) bool {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return true
	}
	if location := resp.Header.Get("Location"); strings.Contains(location, "login") {
		return true
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "loginform") || strings.Contains(lower, "login failed")
}

func requestTimeout() time.Duration {
	ms := config.GetConfig().Collector.TimeoutMs
	if ms == 0 {
		return 30 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

func pageSize() int {
	size := config.GetConfig().Collector.PageSize
	if size <= 0 {
		return 100
	}
	return size
}
