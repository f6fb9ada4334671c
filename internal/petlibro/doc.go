// Package petlibro is the client for the PetLibro cloud API.
//
// It owns the account session and exposes the three device operations the
// bridge needs: listing the account's devices, reading a device's live
// telemetry and triggering a manual feed.
//
// # Session
//
// The access token is never handed out. Callers go through
// Session.Authorize, which makes sure a valid credential exists (refreshing
// or logging in as needed) and then runs the request with it. Concurrent
// callers that find the credential expired share a single in-flight renewal.
//
// # Protocol
//
// Every call is a JSON POST carrying the Android app's fixed headers
// (source, language, timezone, version). Login sends the MD5 hex digest of
// the password; this is what the vendor expects and offers no protection.
//
// # Usage
//
//	client := petlibro.NewClient(petlibro.Config{
//	    BaseURL:  cfg.PetLibro.APIEndpoint,
//	    Email:    cfg.PetLibro.Email,
//	    Password: cfg.PetLibro.Password,
//	    Country:  cfg.PetLibro.Country,
//	    Timezone: cfg.PetLibro.Timezone,
//	}, logger)
//
//	devices, err := client.ListDevices(ctx)
//	tel, ok := client.FetchTelemetry(ctx, devices[0].Serial)
//	if level, ok := tel.WaterLevel(); ok { ... }
//	err = client.ManualFeed(ctx, serial, 1)
package petlibro
