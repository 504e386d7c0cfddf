package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/darkmatter-labs/darkmatter-go/internal/artifact"
	"github.com/darkmatter-labs/darkmatter-go/internal/domain"
	"github.com/darkmatter-labs/darkmatter-go/internal/inference"
	"github.com/darkmatter-labs/darkmatter-go/internal/npy"
	"github.com/darkmatter-labs/darkmatter-go/internal/platform/httpserver"
)

// Request bodies are user-edited grids; 64^3 float32 plus headroom.
const maxFieldBody = 64 << 20

type simulatorAPI struct {
	logger   *slog.Logger
	resolver *artifact.Resolver
	cache    *inference.PrecomputeCache
}

func newSimulatorAPI(logger *slog.Logger, resolver *artifact.Resolver, cache *inference.PrecomputeCache) *simulatorAPI {
	return &simulatorAPI{
		logger:   logger,
		resolver: resolver,
		cache:    cache,
	}
}

func (api *simulatorAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /simulations/{name}/npy", api.handleArtifact)
	mux.HandleFunc("GET /fields/random", api.handleRandomField)
	mux.HandleFunc("GET /fields/{name}", api.handleField)
	mux.HandleFunc("POST /fields", api.handleSubmit)
	mux.HandleFunc("POST /inference/run", api.handleRun)
}

// fieldPayload is the JSON shape crossing to and from the rendering layer.
type fieldPayload struct {
	Data  []float32 `json:"data"`
	Shape []uint64  `json:"shape"`
}

// handleArtifact serves the raw binary artifact, the same endpoint shape
// the resolver's own remote source consumes.
func (api *simulatorAPI) handleArtifact(w http.ResponseWriter, r *http.Request) {
	body, err := api.resolver.Resolve(r.Context(), r.PathValue("name"))
	if err != nil {
		api.writeResolveError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}

// handleField serves a decoded field as JSON for the rendering layer.
func (api *simulatorAPI) handleField(w http.ResponseWriter, r *http.Request) {
	field, err := api.resolver.ResolveField(r.Context(), r.PathValue("name"))
	if err != nil {
		api.writeResolveError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldPayload{Data: field.Data, Shape: field.Shape})
}

// handleRandomField generates the seed density cube the scene starts from.
// The same seed yields the same cube.
func (api *simulatorAPI) handleRandomField(w http.ResponseWriter, r *http.Request) {
	shape := []uint64{64, 64, 64}
	if raw := r.URL.Query().Get("shape"); raw != "" {
		parsed, err := parseShapeParam(raw)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_shape")
			return
		}
		shape = parsed
	}

	var seed int64
	if raw := r.URL.Query().Get("seed"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "invalid_seed")
			return
		}
		seed = parsed
	}

	field := domain.RandomField(shape, seed)
	writeJSON(w, http.StatusOK, fieldPayload{Data: field.Data, Shape: field.Shape})
}

// Caps generated fields at 128^3 elements.
const maxRandomElements = 1 << 21

func parseShapeParam(raw string) ([]uint64, error) {
	parts := strings.Split(raw, ",")
	shape := make([]uint64, 0, len(parts))
	elements := uint64(1)
	for _, part := range parts {
		d, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		shape = append(shape, d)
		// Checked multiply: a wrapping product must not sneak past the cap.
		if d > 0 {
			if elements > maxRandomElements/d {
				return nil, errors.New("shape too large")
			}
			elements *= d
		}
	}
	return shape, nil
}

// handleSubmit registers a user-edited grid as the current inference input.
// With ?precompute=1 a background pass starts immediately.
func (api *simulatorAPI) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload fieldPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFieldBody))
	if err := dec.Decode(&payload); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_body")
		return
	}

	field := domain.Field{Data: payload.Data, Shape: payload.Shape}
	if err := api.cache.Submit(field); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_field")
		return
	}

	precompute := r.URL.Query().Get("precompute")
	if precompute == "1" || precompute == "true" {
		if err := api.cache.BeginPrecompute(r.Context()); err != nil {
			// Submit just succeeded, so the only failure mode is a logic bug.
			api.logger.Error("begin precompute failed", "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// handleRun returns the precomputed result when one is ready, otherwise
// runs inference synchronously.
func (api *simulatorAPI) handleRun(w http.ResponseWriter, r *http.Request) {
	field, err := api.cache.ConsumeOrTrigger(r.Context())
	if err != nil {
		api.writeRunError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fieldPayload{Data: field.Data, Shape: field.Shape})
}

func (api *simulatorAPI) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	var rerr *artifact.ResolveError
	switch {
	case errors.As(err, &rerr):
		api.logger.Info("artifact not resolvable", "error", err)
		api.writeError(w, r, http.StatusNotFound, "artifact_not_found")
	case isCodecError(err):
		api.logger.Error("artifact undecodable", "error", err)
		api.writeError(w, r, http.StatusBadGateway, "artifact_undecodable")
	default:
		api.writeError(w, r, http.StatusBadRequest, "invalid_request")
	}
}

func (api *simulatorAPI) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *inference.ProcessError
	var terr *inference.TimeoutError
	switch {
	case errors.Is(err, inference.ErrNoInput):
		api.writeError(w, r, http.StatusConflict, "no_input_submitted")
	case errors.Is(err, inference.ErrBusy):
		api.writeError(w, r, http.StatusConflict, "inference_busy")
	case errors.As(err, &terr):
		api.logger.Error("inference timed out", "error", err)
		api.writeError(w, r, http.StatusBadGateway, "inference_timeout")
	case errors.As(err, &perr):
		api.logger.Error("inference process failed", "exit_code", perr.ExitCode, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "inference_failed")
	case errors.Is(err, inference.ErrMissingOutput):
		api.logger.Error("inference produced no output", "error", err)
		api.writeError(w, r, http.StatusBadGateway, "inference_no_output")
	case isCodecError(err):
		api.logger.Error("inference output undecodable", "error", err)
		api.writeError(w, r, http.StatusBadGateway, "inference_output_undecodable")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Client went away while awaiting; nothing useful to write.
	default:
		api.logger.Error("inference failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
	}
}

func isCodecError(err error) bool {
	var ferr *npy.FormatError
	return errors.As(err, &ferr)
}

func (api *simulatorAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	requestID, _ := httpserver.RequestIDFromContext(r.Context())
	writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(body)
}
