// Package captcha is a client for an external CAPTCHA solving backend.
// Challenges are submitted once, then polled until the backend returns
// a token or the retry budget runs out.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// Config holds connection settings for the solving backend.
type Config struct {
	Endpoint     string
	APIKey       string
	PollInterval time.Duration
	Retries      int
}

// Service implements interfaces.CaptchaService.
type Service struct {
	config Config
	client *http.Client
	logger arbor.ILogger
}

// NewService creates a captcha client.
func NewService(config Config, logger arbor.ILogger) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.Retries <= 0 {
		config.Retries = 24
	}
	return &Service{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type submitResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type pollResponse struct {
	Status string `json:"status"` // "pending", "solved", "failed"
	Token  string `json:"token,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Solve submits the challenge and polls for the token.
func (s *Service) Solve(ctx context.Context, info interfaces.CaptchaInfo) (string, error) {
	if s.config.Endpoint == "" {
		return "", models.Classified(models.ErrorKindCaptcha, fmt.Errorf("captcha backend not configured"))
	}

	id, err := s.submit(ctx, info)
	if err != nil {
		return "", models.Classified(models.ErrorKindCaptcha, err)
	}

	s.logger.Debug().
		Str("challenge", id).
		Str("page", info.PageURL).
		Msg("Captcha challenge submitted")

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < s.config.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", models.Classified(models.ErrorKindCaptcha, ctx.Err())
		case <-ticker.C:
		}

		token, done, err := s.poll(ctx, id)
		if err != nil {
			return "", models.Classified(models.ErrorKindCaptcha, err)
		}
		if done {
			return token, nil
		}
	}

	return "", models.Classified(models.ErrorKindCaptcha, fmt.Errorf("challenge %s not solved after %d polls", id, s.config.Retries))
}

func (s *Service) submit(ctx context.Context, info interfaces.CaptchaInfo) (string, error) {
	form := url.Values{
		"key":     {s.config.APIKey},
		"sitekey": {info.SiteKey},
		"pageurl": {info.PageURL},
		"kind":    {info.Kind},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint+"/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("captcha backend returned %d on submit", resp.StatusCode)
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if sub.Error != "" {
		return "", fmt.Errorf("captcha backend rejected challenge: %s", sub.Error)
	}
	if sub.ID == "" {
		return "", fmt.Errorf("captcha backend returned no challenge id")
	}
	return sub.ID, nil
}

func (s *Service) poll(ctx context.Context, id string) (string, bool, error) {
	pollURL := fmt.Sprintf("%s/result?key=%s&id=%s", s.config.Endpoint, url.QueryEscape(s.config.APIKey), url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return "", false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to poll challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("captcha backend returned %d on poll", resp.StatusCode)
	}

	var poll pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return "", false, fmt.Errorf("failed to decode poll response: %w", err)
	}

	switch poll.Status {
	case "solved":
		return poll.Token, true, nil
	case "failed":
		return "", false, fmt.Errorf("challenge failed: %s", poll.Error)
	default:
		return "", false, nil
	}
}
