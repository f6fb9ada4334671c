package petlibro

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ListDevices returns every device on the account, in vendor order.
// An account with no devices yields an empty slice and no error.
//
// Errors:
//   - ErrMissingCredentials or *AuthError when the session cannot log in
//   - ErrTransport on network failure, timeout or non-2xx status
//   - ErrProtocol on a malformed body, a non-zero code or a non-array data field
func (c *Client) ListDevices(ctx context.Context) ([]RemoteDevice, error) {
	var resp *response
	err := c.session.Authorize(ctx, func(token string) error {
		var err error
		resp, err = c.post(ctx, pathList, struct{}{}, token, headersDevice, requestTimeout)
		return err
	})
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(pathList, resp)
	if err != nil {
		c.logger.Error("device list request failed", "status", resp.status, "body", trimBody(resp.body))
		return nil, err
	}
	if env.Code == nil {
		return nil, fmt.Errorf("%w: device list: unexpected response format", ErrProtocol)
	}
	if *env.Code != 0 {
		return nil, fmt.Errorf("%w: device list: %s (code: %d)", ErrProtocol, env.message(), *env.Code)
	}

	var raw []json.RawMessage
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: device list: data missing", ErrProtocol)
	}
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: device list: data is not an array: %w", ErrProtocol, err)
	}

	devices := make([]RemoteDevice, 0, len(raw))
	for i, rec := range raw {
		var d RemoteDevice
		if err := json.Unmarshal(rec, &d); err != nil {
			return nil, fmt.Errorf("%w: device list: record %d: %w", ErrProtocol, i, err)
		}
		devices = append(devices, d)
	}

	if len(devices) == 0 {
		c.logger.Warn("no devices found in PetLibro account")
	} else {
		c.logger.Info("fetched device list", "count", len(devices))
	}
	return devices, nil
}

// FetchTelemetry returns the live realInfo record for a device. It never
// fails: any error is logged and reported as ok == false, and the caller
// keeps whatever value it had.
func (c *Client) FetchTelemetry(ctx context.Context, serial string) (Telemetry, bool) {
	tel, err := c.fetchTelemetry(ctx, serial)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Debug("telemetry fetch cancelled", "serial", serial)
		} else {
			c.logger.Error("failed to fetch telemetry", "serial", serial, "error", err)
		}
		return Telemetry{}, false
	}
	if tel.fields == nil {
		c.logger.Debug("no telemetry available", "serial", serial)
		return Telemetry{}, false
	}
	return tel, true
}

type realInfoRequest struct {
	DeviceSn string `json:"deviceSn"`
}

func (c *Client) fetchTelemetry(ctx context.Context, serial string) (Telemetry, error) {
	if serial == "" {
		return Telemetry{}, ErrNoSerial
	}

	var resp *response
	err := c.session.Authorize(ctx, func(token string) error {
		var err error
		resp, err = c.post(ctx, pathRealInfo, realInfoRequest{DeviceSn: serial}, token, headersDevice, requestTimeout)
		return err
	})
	if err != nil {
		return Telemetry{}, err
	}

	env, err := decodeEnvelope(pathRealInfo, resp)
	if err != nil {
		return Telemetry{}, err
	}
	if env.Code == nil || *env.Code != 0 || len(env.Data) == 0 {
		return Telemetry{}, nil
	}

	var tel Telemetry
	if err := json.Unmarshal(env.Data, &tel); err != nil {
		return Telemetry{}, fmt.Errorf("%w: realInfo: %w", ErrProtocol, err)
	}
	return tel, nil
}
