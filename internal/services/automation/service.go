// Package automation drives broker sites through a headless Chrome
// session: rendering scan result pages and filling opt-out forms. It
// owns the browser lifecycle; the orchestration layers own everything
// that happens with the results.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// Config holds browser and politeness settings for the automation runner.
type Config struct {
	Headless          bool
	UserAgent         string
	StepTimeout       time.Duration
	RequestsPerMinute int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		StepTimeout:       90 * time.Second,
		RequestsPerMinute: 10,
	}
}

// Service implements interfaces.ScanRunner and interfaces.OptOutRunner
// on top of a shared chromedp browser context.
type Service struct {
	config  Config
	captcha interfaces.CaptchaService
	email   interfaces.EmailService
	logger  arbor.ILogger
	limiter *rate.Limiter

	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	initialized     bool
}

// NewService creates the automation runner. The browser starts lazily on
// the first scan or opt-out.
func NewService(config Config, captcha interfaces.CaptchaService, email interfaces.EmailService, logger arbor.ILogger) *Service {
	rpm := config.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	return &Service{
		config:  config,
		captcha: captcha,
		email:   email,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// ensureBrowser starts the shared browser context on first use.
func (s *Service) ensureBrowser() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return s.browserCtx, nil
	}

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(s.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.allocatorCancel = allocatorCancel
	s.initialized = true

	s.logger.Info().Bool("headless", s.config.Headless).Msg("Automation browser started")
	return s.browserCtx, nil
}

// Close tears down the browser session.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return
	}
	s.browserCancel()
	s.allocatorCancel()
	s.initialized = false
	s.logger.Info().Msg("Automation browser stopped")
}

// Scan renders the broker's results page for the query and extracts the
// currently listed match records.
func (s *Service) Scan(ctx context.Context, broker *models.Broker, query *models.ProfileQuery) ([]*models.ExtractedProfile, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	browserCtx, err := s.ensureBrowser()
	if err != nil {
		return nil, err
	}

	scanURL, err := ExpandScanURL(broker.ScanURL, query)
	if err != nil {
		return nil, fmt.Errorf("broker %s: %w", broker.ID, err)
	}

	s.logger.Debug().
		Str("broker", broker.ID).
		Str("url", scanURL).
		Msg("Rendering scan page")

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	stepCtx, stepCancel := context.WithTimeout(tabCtx, s.config.StepTimeout)
	defer stepCancel()

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
		chromedp.Navigate(scanURL),
		chromedp.WaitReady("body"),
	}
	if broker.Selectors.Result != "" {
		// Result pages render asynchronously; wait for either results or
		// a settled empty page rather than racing the first paint.
		tasks = append(tasks, chromedp.Sleep(2*time.Second))
	}
	tasks = append(tasks, chromedp.OuterHTML("html", &html))

	if err := chromedp.Run(stepCtx, tasks); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", scanURL, err)
	}

	profiles, err := ExtractProfiles(html, broker.Selectors, broker.ID, query.ID)
	if err != nil {
		return nil, models.Classified(models.ErrorKindValidation, err)
	}

	s.logger.Info().
		Str("broker", broker.ID).
		Str("profile_query", query.ID).
		Int("matches", len(profiles)).
		Msg("Scan extracted records")

	return profiles, nil
}

// OptOut fills and submits the broker's removal form for one record,
// solving the CAPTCHA and following the email confirmation link when the
// broker requires them.
func (s *Service) OptOut(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, profile *models.ExtractedProfile) error {
	if broker.OptOut.URL == "" {
		return fmt.Errorf("broker %s has no opt-out form", broker.ID)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	browserCtx, err := s.ensureBrowser()
	if err != nil {
		return err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()
	stepCtx, stepCancel := context.WithTimeout(tabCtx, s.config.StepTimeout)
	defer stepCancel()

	form := broker.OptOut
	tasks := chromedp.Tasks{
		chromedp.Navigate(form.URL),
		chromedp.WaitReady("body"),
	}
	if form.EmailField != "" {
		tasks = append(tasks, chromedp.SendKeys(form.EmailField, s.emailAddress()))
	}
	if form.ProfileField != "" && profile.ProfileURL != "" {
		tasks = append(tasks, chromedp.SendKeys(form.ProfileField, profile.ProfileURL))
	}
	if err := chromedp.Run(stepCtx, tasks); err != nil {
		return fmt.Errorf("failed to fill opt-out form: %w", err)
	}

	if form.HasCaptcha {
		token, err := s.captcha.Solve(ctx, interfaces.CaptchaInfo{
			SiteKey: form.CaptchaSite,
			PageURL: form.URL,
			Kind:    "recaptcha",
		})
		if err != nil {
			return models.Classified(models.ErrorKindCaptcha, err)
		}
		inject := fmt.Sprintf(`document.querySelector('[name="g-recaptcha-response"]').value = %q;`, token)
		if err := chromedp.Run(stepCtx, chromedp.Evaluate(inject, nil)); err != nil {
			return fmt.Errorf("failed to inject captcha token: %w", err)
		}
	}

	if err := chromedp.Run(stepCtx, chromedp.Click(form.SubmitButton)); err != nil {
		return fmt.Errorf("failed to submit opt-out form: %w", err)
	}

	if form.NeedsEmailURL {
		if err := s.confirmByEmail(ctx, tabCtx); err != nil {
			return err
		}
	}

	s.logger.Info().
		Str("broker", broker.ID).
		Str("record", profile.ID).
		Msg("Opt-out request submitted")

	return nil
}

func (s *Service) emailAddress() string {
	if s.email == nil {
		return ""
	}
	if addr, ok := s.email.(interface{ Address() string }); ok {
		return addr.Address()
	}
	return ""
}

// confirmByEmail waits for the broker's confirmation message and visits
// the link it carries.
func (s *Service) confirmByEmail(ctx context.Context, tabCtx context.Context) error {
	if s.email == nil {
		return models.Classified(models.ErrorKindEmail, fmt.Errorf("broker requires email confirmation but no mailbox is configured"))
	}

	link, err := s.email.GetConfirmationLink(ctx, s.emailAddress(), 0, 0)
	if err != nil {
		return models.Classified(models.ErrorKindEmail, err)
	}

	stepCtx, stepCancel := context.WithTimeout(tabCtx, s.config.StepTimeout)
	defer stepCancel()
	if err := chromedp.Run(stepCtx,
		chromedp.Navigate(link),
		chromedp.WaitReady("body"),
	); err != nil {
		return fmt.Errorf("failed to open confirmation link: %w", err)
	}

	s.logger.Debug().Str("link", link).Msg("Email confirmation link visited")
	return nil
}
