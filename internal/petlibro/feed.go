package petlibro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// newRequestID returns a fresh random feed request ID.
var newRequestID = func() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type feedRequest struct {
	DeviceSn  string `json:"deviceSn"`
	GrainNum  int    `json:"grainNum"`
	RequestID string `json:"requestId"`
}

// ManualFeed dispenses portions from a feeder. Each call carries a new
// random request ID.
//
// The command is accepted when the vendor answers HTTP 200 with either a
// bare JSON number or an object whose code is 0. Anything else is
// ErrCommandRejected.
func (c *Client) ManualFeed(ctx context.Context, serial string, portions int) error {
	if serial == "" {
		return ErrNoSerial
	}
	if portions < 1 {
		portions = 1
	}

	req := feedRequest{
		DeviceSn:  serial,
		GrainNum:  portions,
		RequestID: newRequestID(),
	}

	var resp *response
	err := c.session.Authorize(ctx, func(token string) error {
		var err error
		resp, err = c.post(ctx, pathFeed, req, token, headersDevice, feedTimeout)
		return err
	})
	if err != nil {
		return err
	}

	if resp.status != http.StatusOK || !feedAccepted(resp.body) {
		return fmt.Errorf("%w: feed command failed with status %d: %s", ErrCommandRejected, resp.status, trimBody(resp.body))
	}

	c.logger.Info("manual feed accepted", "serial", serial, "portions", portions, "request_id", req.RequestID)
	return nil
}

// feedAccepted reports whether body is a JSON number or an object with code 0.
func feedAccepted(body []byte) bool {
	body = bytes.TrimSpace(body)

	// A quoted number is a string, not a number; null decodes to nil.
	var n *float64
	if err := json.Unmarshal(body, &n); err == nil && n != nil {
		return true
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	return env.Code != nil && *env.Code == 0
}
