package gmail

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"unsubscan/internal/model"
)

const oneClickBody = "List-Unsubscribe=One-Click"

// Unsubscriber acts on a sender's best unsubscribe link: one-click links are
// confirmed with an RFC 8058 POST, everything else is handed to the desktop.
type Unsubscriber struct {
	transport Transport
	open      func(url string) error
	log       zerolog.Logger
}

func NewUnsubscriber(t Transport, log zerolog.Logger) *Unsubscriber {
	return &Unsubscriber{transport: t, open: OpenBrowser, log: log}
}

// Unsubscribe returns the mechanism actually used.
func (u *Unsubscriber) Unsubscribe(ctx context.Context, s model.SenderSummary) (model.LinkType, error) {
	if s.UnsubscribeURL == "" {
		return "", fmt.Errorf("no unsubscribe link for %s", s.Email)
	}

	if s.LinkType == model.LinkOneClick {
		resp, err := u.transport.Post(ctx, s.UnsubscribeURL, "", "application/x-www-form-urlencoded", []byte(oneClickBody))
		if err == nil && isSuccess(resp.StatusCode) {
			u.log.Info().Str("sender", s.Email).Int("status", resp.StatusCode).Msg("one-click unsubscribe accepted")
			return model.LinkOneClick, nil
		}
		// Fall back to the browser so the user can finish by hand.
		ev := u.log.Warn().Str("sender", s.Email)
		if err != nil {
			ev = ev.Err(err)
		} else {
			ev = ev.Int("status", resp.StatusCode)
		}
		ev.Msg("one-click unsubscribe failed; opening link")
		if err := u.open(s.UnsubscribeURL); err != nil {
			return "", err
		}
		return model.LinkHTTP, nil
	}

	if err := u.open(s.UnsubscribeURL); err != nil {
		return "", err
	}
	u.log.Info().Str("sender", s.Email).Str("link_type", string(s.LinkType)).Msg("opened unsubscribe link")
	if strings.HasPrefix(strings.ToLower(s.UnsubscribeURL), "mailto:") {
		return model.LinkMailto, nil
	}
	return model.LinkHTTP, nil
}

// OpenBrowser hands an http(s) or mailto URL to the platform opener.
func OpenBrowser(url string) error {
	// Validate URL scheme to prevent command injection
	lower := strings.ToLower(url)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "mailto:") {
		return fmt.Errorf("refusing to open URL with unsupported scheme: %s", url)
	}

	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "linux":
		cmd = "xdg-open"
		args = []string{url}
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}

	return exec.Command(cmd, args...).Start()
}
