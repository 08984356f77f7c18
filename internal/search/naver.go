package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tpr-labs/nriy/internal/execution"
)

const defaultNaverBaseURL = "https://openapi.naver.com/v1/search"

var tagPattern = regexp.MustCompile(`</?[a-zA-Z][^<>]*>`)

type NaverConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	Display      int
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type NaverProvider struct {
	clientID     string
	clientSecret string
	baseURL      string
	display      int
	limiter      *rate.Limiter
	client       *http.Client
}

func NewNaverProvider(cfg NaverConfig) *NaverProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultNaverBaseURL
	}
	display := cfg.Display
	if display <= 0 {
		display = 20
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NaverProvider{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		baseURL:      baseURL,
		display:      display,
		limiter:      limiter,
		client:       client,
	}
}

type naverItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type naverResponse struct {
	Items []naverItem `json:"items"`
}

func (p *NaverProvider) Search(ctx context.Context, kind Kind, query string) (string, error) {
	endpoint, err := naverEndpoint(kind)
	if err != nil {
		return "", execution.Validation("search", "%v", err)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", execution.Validation("search", "query is required")
	}
	if p.clientID == "" || p.clientSecret == "" {
		return "", execution.Upstream("search", errors.New("missing Naver API credentials"))
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("display", strconv.Itoa(p.display))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s.json?%s", p.baseURL, endpoint, params.Encode()), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Naver-Client-Id", p.clientID)
	req.Header.Set("X-Naver-Client-Secret", p.clientSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed naverResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	return formatItems(parsed.Items), nil
}

func naverEndpoint(kind Kind) (string, error) {
	switch kind {
	case KindNews:
		return "news", nil
	case KindBlog:
		return "blog", nil
	case KindWeb:
		return "webkr", nil
	default:
		return "", fmt.Errorf("unsupported search kind %q", kind)
	}
}

func statusError(status int, body string) error {
	err := fmt.Errorf("naver search returned status %d: %s", status, body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return execution.Upstream("search", err)
	case status == http.StatusBadRequest:
		return execution.Validation("search", "%v", err)
	default:
		return err
	}
}

// formatItems renders items as "- title: ...\n  description: ...\n" lines.
// Each field has its markup removed before entities are decoded, so escaped
// text such as "&lt;b&gt;" survives as literal "<b>".
func formatItems(items []naverItem) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- title: ")
		b.WriteString(plainText(item.Title))
		b.WriteString("\n  description: ")
		b.WriteString(plainText(item.Description))
		b.WriteString("\n")
	}
	return b.String()
}

func plainText(field string) string {
	return html.UnescapeString(tagPattern.ReplaceAllString(field, ""))
}
