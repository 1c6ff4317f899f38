package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
)

var ErrNoMedia = errors.New("sdp has no media sections")

// ValidateSDP parses a session description and requires at least one media
// section. The relay never applies the description; this only keeps
// garbage from reaching peers.
func ValidateSDP(raw string) error {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	if len(sd.MediaDescriptions) == 0 {
		return ErrNoMedia
	}
	return nil
}
