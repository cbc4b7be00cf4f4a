package interfaces

import "context"

// CaptchaInfo identifies one CAPTCHA challenge to be solved out of band.
type CaptchaInfo struct {
	SiteKey string
	PageURL string
	Kind    string
}

// CaptchaService submits a challenge to the solving backend and polls,
// bounded by the implementation's interval and retry count, until a
// token is available.
type CaptchaService interface {
	Solve(ctx context.Context, info CaptchaInfo) (string, error)
}
