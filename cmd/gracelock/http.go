package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mirkobrombin/go-gracelock/v1/adapter"
	"github.com/mirkobrombin/go-gracelock/v1/audit"
	"github.com/mirkobrombin/go-gracelock/v1/core"
	gerrors "github.com/mirkobrombin/go-gracelock/v1/errors"
	"github.com/mirkobrombin/go-gracelock/v1/watchbus"
)

// defaultRows is the page length of /records.
const defaultRows = 100

func newHandler(tr *core.Tracker, feed watchbus.WatchBus, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	snapshot := watchbus.WithSnapshot(tr.Timers().Countdowns)
	mux.Handle("GET /feed", watchbus.SSEHandler(feed, snapshot))
	mux.Handle("GET /feed/ws", watchbus.WebSocketHandler(feed, snapshot))
	mux.HandleFunc("GET /records", recordsHandler(tr))
	mux.HandleFunc("GET /audit", auditHandler(tr))
	return mux
}

func recordsHandler(tr *core.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		rg := adapter.Range{Offset: intParam(q.Get("offset"), 0), Limit: intParam(q.Get("limit"), defaultRows)}
		page, err := tr.LoadPage(r.Context(), adapter.Filter{Search: q.Get("search")}, rg)
		if err != nil {
			writeError(w, err)
			return
		}
		rows := make([]rowView, 0, len(page.Records))
		for _, rec := range page.Records {
			rows = append(rows, viewRow(r.Context(), tr, rec, page.Numbers[rec.ID]))
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": page.Total, "rows": rows})
	}
}

func auditHandler(tr *core.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, err := tr.AuditLog(r.Context(), audit.Query{
			Action: audit.ActionType(q.Get("action")),
			User:   q.Get("user"),
			Offset: intParam(q.Get("offset"), 0),
			Limit:  intParam(q.Get("limit"), audit.DefaultPageSize),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		type entry struct {
			audit.Entry
			Summary string `json:"summary"`
		}
		entries := make([]entry, 0, len(page.Entries))
		for _, e := range page.Entries {
			entries = append(entries, entry{Entry: e, Summary: audit.Describe(e)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": page.Total, "entries": entries})
	}
}

func intParam(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gerrors.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, gerrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gerrors.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
