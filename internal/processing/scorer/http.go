package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/harvester/internal/core/domain"
	"github.com/vietddude/harvester/internal/processing/recovery"
)

// HTTPScorer calls an external scoring service over JSON/HTTP.
//
//	POST {url}/score   {"record": {...}}  -> {"score", "priority", "reason", "title", "description"}
//	POST {url}/extract {"record": {...}}  -> {"items": [ ...same shape... ]}
type HTTPScorer struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPScorer creates a scorer for the service at endpoint.
func NewHTTPScorer(endpoint, apiKey string, timeout time.Duration) *HTTPScorer {
	return &HTTPScorer{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Client exposes the underlying HTTP client so tests can mock its transport.
func (s *HTTPScorer) Client() *http.Client {
	return s.httpClient
}

type scoreResponse struct {
	Score       *int   `json:"score"`
	Priority    string `json:"priority"`
	Reason      string `json:"reason"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type extractResponse struct {
	Items []scoreResponse `json:"items"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, record *domain.Record) (domain.Score, error) {
	var resp scoreResponse
	if err := s.post(ctx, "/score", record, &resp); err != nil {
		return domain.Score{}, err
	}
	if resp.Score == nil {
		return domain.Score{}, errors.New("score response missing score")
	}
	return resp.toScore(record.Title, record.Description), nil
}

// Extract implements Extractor. Items are numbered from 1 in response order.
func (s *HTTPScorer) Extract(ctx context.Context, record *domain.Record) ([]domain.Candidate, error) {
	var resp extractResponse
	if err := s.post(ctx, "/extract", record, &resp); err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(resp.Items))
	for i, item := range resp.Items {
		if item.Score == nil || strings.TrimSpace(item.Title) == "" {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Record:   record,
			SubIndex: i + 1,
			Score:    item.toScore(record.Title, ""),
		})
	}
	return candidates, nil
}

func (r scoreResponse) toScore(title, description string) domain.Score {
	value := clamp(*r.Score)
	priority := domain.PriorityForScore(value)
	if r.Priority != "" {
		priority = domain.ParsePriority(r.Priority)
	}
	if t := strings.TrimSpace(r.Title); t != "" {
		title = t
	}
	if d := strings.TrimSpace(r.Description); d != "" {
		description = d
	}
	return domain.Score{
		Value:       value,
		Priority:    priority,
		Reason:      r.Reason,
		Title:       title,
		Description: description,
	}
}

func (s *HTTPScorer) post(ctx context.Context, path string, record *domain.Record, out any) error {
	op := "scorer " + strings.TrimPrefix(path, "/")

	jsonData, err := json.Marshal(map[string]any{"record": record})
	if err != nil {
		return recovery.NewFatal(op, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+path, bytes.NewReader(jsonData))
	if err != nil {
		return recovery.NewFatal(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return recovery.NewTransient(op, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return recovery.NewTransient(op, fmt.Errorf("http %d: %s", resp.StatusCode, body))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return recovery.NewRecoverable(op, fmt.Errorf("http %d: %s", resp.StatusCode, body))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: http %d: %s", op, resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: parse response: %w", op, err)
	}
	return nil
}
