package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/aquamitra/aquamitra/internal/auth"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/provision"
	"github.com/aquamitra/aquamitra/internal/schema"
)

type schemaResponse struct {
	Table      string               `json:"table"`
	Rows       int64                `json:"rows"`
	SourceRows int64                `json:"source_rows"`
	Files      []string             `json:"files"`
	Columns    []schema.Column      `json:"columns"`
	Warnings   []schema.SchemaError `json:"warnings"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Warehouse == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WAREHOUSE_NOT_CONFIGURED", "assessment data is not configured")
		return
	}
	described, err := deps.Warehouse.Schema(r.Context())
	if err != nil {
		deps.Logger.ErrorContext(r.Context(), "schema lookup failed", append(observability.RequestAttrs(r.Context()), "error", err)...)
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", "assessment data is not available")
		return
	}
	stats := deps.Warehouse.Stats()
	warnings := described.Warnings
	if warnings == nil {
		warnings = []schema.SchemaError{}
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Table:      described.Table,
		Rows:       stats.Rows,
		SourceRows: stats.SourceRows,
		Files:      stats.Files,
		Columns:    described.Columns,
		Warnings:   warnings,
	})
}

func handleReprovision(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Warehouse == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "WAREHOUSE_NOT_CONFIGURED", "assessment data is not configured")
		return
	}
	ctx := r.Context()
	if deps.ReprovisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.ReprovisionTimeout)
		defer cancel()
	}

	attrs := observability.RequestAttrs(ctx)
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		attrs = append(attrs, "caller", identity.Name)
	}
	stats, err := deps.Warehouse.Reprovision(ctx)
	if err != nil {
		deps.Logger.ErrorContext(ctx, "reprovision failed", append(attrs, "error", err)...)
		var ingestionErr *provision.IngestionError
		if errors.As(err, &ingestionErr) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "INGESTION_FAILED", ingestionErr.Error())
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "REPROVISION_FAILED", "reprovisioning failed")
		return
	}
	deps.Logger.InfoContext(ctx, "reprovisioned", append(attrs, "rows", stats.Rows, "files", len(stats.Files))...)
	writeJSON(w, http.StatusOK, stats)
}
