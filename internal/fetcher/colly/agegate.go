package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/ptt-stock-crawler/internal/crawler"
)

// ErrAgeGateRejected is returned when the board keeps serving the consent
// page after consent was submitted with two different identities.
var ErrAgeGateRejected = errors.New("age gate consent rejected")

const consentPath = "/ask/over18"

var gateMarkers = [][]byte{
	[]byte(`action="/ask/over18"`),
	[]byte(`class="over18-notice"`),
	[]byte("您要查看的看板需要特殊權限"),
}

// isGated reports whether resp is the age-confirmation page rather than
// board content.
func isGated(resp crawler.FetchResponse) bool {
	if strings.Contains(resp.URL, consentPath) {
		return true
	}
	for _, marker := range gateMarkers {
		if bytes.Contains(resp.Body, marker) {
			return true
		}
	}
	return false
}

func (s *Session) indexURL() string {
	return s.fetcher.cfg.BaseURL + s.indexPath()
}

func (s *Session) indexPath() string {
	return "/bbs/" + s.fetcher.cfg.Board + "/index.html"
}

// EnsureAccess loads the board index and, when the age gate is shown,
// submits consent. A rejected consent is retried once with a rotated user
// agent before giving up with ErrAgeGateRejected.
func (s *Session) EnsureAccess(ctx context.Context) error {
	gated, err := s.probe(ctx)
	if err != nil {
		return err
	}
	if !gated {
		return nil
	}
	for round := 0; round < 2; round++ {
		if round > 0 {
			s.identity.Rotate()
			s.logger.Info("retrying consent with new identity", zap.String("user_agent", s.identity.Current()))
		}
		if err := s.consent(ctx); err != nil {
			return err
		}
		gated, err = s.probe(ctx)
		if err != nil {
			return err
		}
		if !gated {
			s.logger.Debug("age gate cleared", zap.Int("round", round+1))
			return nil
		}
	}
	return ErrAgeGateRejected
}

func (s *Session) probe(ctx context.Context) (bool, error) {
	if err := s.pace(ctx, s.indexURL()); err != nil {
		return false, err
	}
	resp, err := s.do(ctx, http.MethodGet, s.indexURL(), nil)
	if err != nil {
		return false, fmt.Errorf("load board index: %w", err)
	}
	if isGated(resp) {
		return true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("load board index: unexpected status %d", resp.StatusCode)
	}
	return false, nil
}

// consent posts the age confirmation form. The board answers with a redirect
// and sets the consent cookie in the session jar.
func (s *Session) consent(ctx context.Context) error {
	target := s.fetcher.cfg.BaseURL + consentPath
	if err := s.pace(ctx, target); err != nil {
		return err
	}
	form := map[string]string{
		"from": s.indexPath(),
		"yes":  "yes",
	}
	resp, err := s.do(ctx, http.MethodPost, target, form)
	if err != nil {
		return fmt.Errorf("submit age consent: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("submit age consent: unexpected status %d", resp.StatusCode)
	}
	return nil
}
