package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/petlibro-bridge/internal/device"
	"github.com/nerrad567/petlibro-bridge/internal/discovery"
	"github.com/nerrad567/petlibro-bridge/internal/driver"
	"github.com/nerrad567/petlibro-bridge/internal/host"
	"github.com/nerrad567/petlibro-bridge/internal/petlibro"
)

// EntityResponse is one hosted entity with its characteristic values.
type EntityResponse struct {
	ID              string                   `json:"id"`
	Name            string                   `json:"name"`
	Kind            device.Kind              `json:"kind"`
	Info            device.Info              `json:"info"`
	Characteristics []CharacteristicResponse `json:"characteristics"`
}

// CharacteristicResponse is a characteristic descriptor plus its cached value.
type CharacteristicResponse struct {
	driver.Descriptor
	Value any `json:"value"`
}

// valueBody is the request and response body of the characteristic endpoints.
type valueBody struct {
	Value json.RawMessage `json:"value"`
}

func entityResponse(le *discovery.LocalEntity) EntityResponse {
	chars := le.Driver.Characteristics()
	resp := EntityResponse{
		ID:              le.Entity.ID,
		Name:            le.Entity.Name,
		Kind:            le.Entity.Kind,
		Info:            le.Entity.Info(),
		Characteristics: make([]CharacteristicResponse, len(chars)),
	}
	for i, c := range chars {
		resp.Characteristics[i] = CharacteristicResponse{Descriptor: c.Descriptor(), Value: c.Value()}
	}
	return resp
}

// handleSession reports the vendor session state.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	state := petlibro.StateUnauthenticated
	if s.session != nil {
		state = s.session.State()
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// entityResponses renders every hosted entity, sorted by name.
func (s *Server) entityResponses() []EntityResponse {
	locals := s.reconciler.Entities()
	out := make([]EntityResponse, len(locals))
	for i, le := range locals {
		out[i] = entityResponse(le)
	}
	return out
}

// handleListEntities lists hosted entities sorted by name.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	out := s.entityResponses()
	writeJSON(w, http.StatusOK, map[string]any{
		"entities": out,
		"count":    len(out),
	})
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	le, ok := s.reconciler.Entity(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, entityResponse(le))
}

// lookupCharacteristic resolves {id}/{name}, writing a 404 when either is unknown.
func (s *Server) lookupCharacteristic(w http.ResponseWriter, r *http.Request) (*driver.Characteristic, bool) {
	le, ok := s.reconciler.Entity(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "entity not found")
		return nil, false
	}
	c, ok := le.Driver.Characteristic(chi.URLParam(r, "name"))
	if !ok {
		writeNotFound(w, "characteristic not found")
		return nil, false
	}
	return c, true
}

func (s *Server) handleGetCharacteristic(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCharacteristic(w, r)
	if !ok {
		return
	}
	v, err := c.Get(r.Context())
	if err != nil {
		s.logger.Error("reading characteristic", "characteristic", c.Name(), "error", err)
		writeInternalError(w, "failed to read characteristic")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": v})
}

// handleSetCharacteristic writes {"value": ...} to a characteristic.
// A feeder's "on" write returns after the feed request completes.
func (s *Server) handleSetCharacteristic(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookupCharacteristic(w, r)
	if !ok {
		return
	}

	var body valueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := setCharacteristic(r.Context(), c, body.Value)
	switch {
	case errors.Is(err, driver.ErrReadOnly):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "characteristic is read-only")
		return
	case errors.Is(err, driver.ErrInvalidValue):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case err != nil:
		s.logger.Error("writing characteristic", "characteristic", c.Name(), "error", err)
		writeInternalError(w, "failed to write characteristic")
		return
	}

	s.logger.Info("characteristic written via API",
		"entity_id", chi.URLParam(r, "id"),
		"characteristic", c.Name(),
		"subject", r.Context().Value(ctxKeySubject),
	)
	writeJSON(w, http.StatusOK, map[string]any{"value": c.Value()})
}

// setCharacteristic decodes raw for c's format and writes it. Decoding
// failures wrap driver.ErrInvalidValue.
func setCharacteristic(ctx context.Context, c *driver.Characteristic, raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: value is required", driver.ErrInvalidValue)
	}
	value, err := host.DecodeValue(c.Descriptor().Format, raw)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	return c.Set(ctx, value)
}

// handleDiscovery runs one reconciliation pass and returns what changed.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	result, err := s.reconciler.Reconcile(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	var authErr *petlibro.AuthError
	switch {
	case errors.Is(err, petlibro.ErrMissingCredentials):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "PetLibro credentials are not configured")
	case errors.As(err, &authErr):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "PetLibro login failed: "+authErr.Message)
	case errors.Is(err, discovery.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "bridge is shutting down")
	default:
		s.logger.Warn("discovery pass via API failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "discovery failed: "+err.Error())
	}
}
