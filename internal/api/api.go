// Package api exposes the render pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/choropleth-cache/internal/boundary/fetch"
	"github.com/mohammed-shakir/choropleth-cache/internal/catalog"
	"github.com/mohammed-shakir/choropleth-cache/internal/classify"
	"github.com/mohammed-shakir/choropleth-cache/internal/joinkey"
	"github.com/mohammed-shakir/choropleth-cache/internal/lod"
	"github.com/mohammed-shakir/choropleth-cache/internal/normalize"
	"github.com/mohammed-shakir/choropleth-cache/internal/pipeline"
)

const maxRequestBytes = 32 << 20

// Service is the part of *pipeline.Service the API needs.
type Service interface {
	Render(ctx context.Context, req pipeline.Request) (pipeline.Output, error)
	HitTest(ctx context.Context, req pipeline.HitRequest) ([]pipeline.Hit, error)
}

type handlers struct {
	svc Service
	log *slog.Logger
}

// Register mounts the /v1 routes on r.
func Register(r chi.Router, svc Service, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: svc, log: logger}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/render", h.render)
		r.Get("/hit", h.hit)
		r.Get("/lod", h.lod)
	})
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Method != "" {
		m, err := classify.ParseMethod(string(req.Method))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		req.Method = m
	}

	out, err := h.svc.Render(r.Context(), req)
	if err != nil {
		if out.Stale {
			h.log.WarnContext(r.Context(), "serving stale render", "err", err)
			writeJSON(w, http.StatusOK, out)
			return
		}
		status, kind := classifyError(err)
		if status >= http.StatusInternalServerError {
			h.log.ErrorContext(r.Context(), "render failed", "err", err, "kind", kind)
		}
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) hit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	src, err := parseSource(q.Get("url"), q.Get("iso3"), q.Get("level"), q.Get("release"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	hr := pipeline.HitRequest{
		Source: src,
		Layer:  normalize.Options{PreferredName: q.Get("layer"), HonorPreferredName: q.Get("layer") != ""},
	}

	rawBBox, rawPoint := strings.TrimSpace(q.Get("bbox")), strings.TrimSpace(q.Get("point"))
	switch {
	case rawPoint != "":
		p, err := parsePoint(rawPoint)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid point: %w", err))
			return
		}
		hr.Point = &p
	case rawBBox != "":
		b, err := parseBBOX(rawBBox)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid bbox: %w", err))
			return
		}
		hr.Bound = b
	default:
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing required parameter: bbox or point"))
		return
	}

	hits, err := h.svc.HitTest(r.Context(), hr)
	if err != nil {
		status, kind := classifyError(err)
		writeError(w, status, kind, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (h *handlers) lod(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("resolution"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing required parameter: resolution"))
		return
	}
	res, err := parseFloat(raw)
	if err != nil || res < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid resolution %q", raw))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resolution": res, "bucket": lod.BucketFor(res)})
}

// classifyError maps the pipeline error taxonomy onto HTTP statuses.
func classifyError(err error) (int, string) {
	var te *fetch.TransportError
	switch {
	case errors.Is(err, pipeline.ErrInvalidSource):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, pipeline.ErrNoCatalog):
		return http.StatusNotImplemented, "catalog_unavailable"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "catalog_not_found"
	case errors.Is(err, joinkey.ErrNoMatch):
		return http.StatusUnprocessableEntity, "join"
	case errors.Is(err, normalize.ErrSchema):
		return http.StatusUnprocessableEntity, "schema"
	case errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict, "superseded"
	case errors.As(err, &te):
		switch te.Kind {
		case fetch.KindInvalidURL, fetch.KindInsecureScheme, fetch.KindOpenRedirect:
			return http.StatusBadRequest, "transport_" + string(te.Kind)
		case fetch.KindTimeout:
			return http.StatusGatewayTimeout, "transport_" + string(te.Kind)
		}
		return http.StatusBadGateway, "transport_" + string(te.Kind)
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind})
}
