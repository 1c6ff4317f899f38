package access

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// HTTP asks the meeting service: GET {base}/meetings/{room}/members/{user}.
// 2xx means allowed; anything else, including transport errors and
// timeouts, means denied.
type HTTP struct {
	base    *url.URL
	timeout time.Duration
	client  *http.Client
}

func NewHTTP(base string, timeout time.Duration) (*HTTP, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("access: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("access: unsupported url scheme %q", u.Scheme)
	}
	return &HTTP{base: u, timeout: timeout, client: &http.Client{}}, nil
}

func (h *HTTP) Authorize(ctx context.Context, uid domain.UserID, room domain.RoomID) bool {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	roomSeg, userSeg := pathSegment(string(room)), pathSegment(string(uid))
	if roomSeg == "" || userSeg == "" {
		log.Warn().Str("module", "access").Str("room", string(room)).Str("user", string(uid)).Msg("id not usable as a path segment")
		return false
	}
	endpoint := h.base.JoinPath("meetings", roomSeg, "members", userSeg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		log.Error().Err(err).Str("module", "access").Str("room", string(room)).Msg("build request")
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("module", "access").Str("room", string(room)).Str("user", string(uid)).Msg("membership lookup failed")
		return false
	}
	defer resp.Body.Close()

	allowed := resp.StatusCode >= 200 && resp.StatusCode < 300
	log.Debug().Str("module", "access").Str("room", string(room)).Str("user", string(uid)).Int("status", resp.StatusCode).Bool("allowed", allowed).Msg("membership lookup")
	return allowed
}

// pathSegment escapes s as a single path element. JoinPath treats its
// arguments as escaped and cleans dot segments, so those are refused.
func pathSegment(s string) string {
	if s == "" || s == "." || s == ".." {
		return ""
	}
	return url.PathEscape(s)
}
