package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/edgard/lifetracker/internal/analysis"
	"github.com/edgard/lifetracker/internal/contacts"
	"github.com/edgard/lifetracker/internal/database"
)

// RegisterRoutes mounts the contacts, analysis and tables API routes.
func RegisterRoutes(r chi.Router, deps Deps) {
	r.Route("/api/contacts", func(r chi.Router) {
		r.Get("/", handleListContacts(deps))
		r.Get("/history", handleHistory(deps))
		r.Post("/import", handleImport(deps))
		r.Get("/{id}", handleGetContact(deps))
		r.Post("/{id}/analyze", handleAnalyzeContact(deps))
	})
	r.Post("/api/analyze", handleAnalyze(deps))
	r.Get("/api/tables", handleTables(deps))
}

// TableInfo is one entry of GET /api/tables.
type TableInfo struct {
	Name  string `json:"name"`
	Rows  int64  `json:"rows"`
	Error string `json:"error,omitempty"`
}

// ImportRequest is the optional body of POST /api/contacts/import.
type ImportRequest struct {
	Table string `json:"table"`
}

// ImportResponse reports the outcome of an import.
type ImportResponse struct {
	Table     string `json:"table"`
	Dialogs   int    `json:"dialogs"`
	Unique    int    `json:"unique"`
	Batches   int    `json:"batches"`
	Committed int    `json:"committed"`
	TotalRows int64  `json:"total_rows"`
	Error     string `json:"error,omitempty"`
	FailedAt  *int   `json:"failed_batch,omitempty"`
}

func handleListContacts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := database.ListOptions{AnalyzedOnly: q.Get("analyzed") == "true"}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			opts.Limit = n
		}
		if v := q.Get("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
				return
			}
			opts.Offset = n
		}

		list, err := deps.Store.ListContacts(r.Context(), deps.Table, opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleGetContact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := contactID(w, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		contact, err := deps.Store.GetContact(r.Context(), deps.Table, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if contact == nil {
			writeError(w, http.StatusNotFound, "contact not found")
			return
		}
		writeJSON(w, http.StatusOK, contact)
	}
}

// handleHistory proxies the history endpoint for one chat.
func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.Query().Get("chat_id")
		if raw == "" {
			writeError(w, http.StatusBadRequest, "chat_id is required")
			return
		}
		id, ok := contactID(w, raw)
		if !ok {
			return
		}
		history, err := deps.History.FetchHistory(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to fetch chat history")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(history)
	}
}

// handleAnalyze runs the analysis backend on a caller supplied history.
func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analysis.AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.History) == 0 {
			writeError(w, http.StatusBadRequest, "history is required")
			return
		}
		result, err := deps.Analysis.Analyze(r.Context(), req.History)
		if err != nil {
			var statusErr *analysis.StatusError
			if errors.As(err, &statusErr) {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "failed to analyze history")
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleAnalyzeContact(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := contactID(w, chi.URLParam(r, "id"))
		if !ok {
			return
		}
		contact, err := deps.Analyzer.Analyze(r.Context(), id)
		if err != nil {
			writeError(w, analyzeStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, contact)
	}
}

// analyzeStatus maps analysis pipeline errors to HTTP status codes.
func analyzeStatus(err error) int {
	var (
		fetchErr    *contacts.HistoryFetchError
		analysisErr *contacts.AnalysisError
		persistErr  *contacts.PersistError
		conflictErr *contacts.ConflictError
	)
	switch {
	case errors.As(err, &conflictErr):
		return http.StatusConflict
	case errors.As(err, &fetchErr), errors.As(err, &analysisErr):
		return http.StatusBadGateway
	case errors.As(err, &persistErr) && persistErr.NotFound():
		return http.StatusNotFound
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError
	default:
		// Caller gave up; the run continues in the background.
		return http.StatusAccepted
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := ImportRequest{Table: deps.Table}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if req.Table == "" {
				req.Table = deps.Table
			}
		}

		dialogs, err := deps.Dialogs.FetchDialogs(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		resp := ImportResponse{Table: req.Table, Dialogs: len(dialogs)}
		result, err := deps.Importer.Import(r.Context(), dialogs, req.Table)
		if result != nil {
			resp.Unique = result.Unique
			resp.Batches = len(result.Batches)
			resp.Committed = result.Committed
		}
		if err != nil {
			resp.Error = err.Error()
			status := http.StatusInternalServerError
			var batchErr *contacts.ImportBatchError
			if errors.As(err, &batchErr) {
				resp.FailedAt = &batchErr.BatchIndex
			}
			if errors.Is(err, database.ErrInvalidTable) {
				status = http.StatusBadRequest
			}
			writeJSON(w, status, resp)
			return
		}

		if total, err := deps.Store.CountRows(r.Context(), req.Table); err == nil {
			resp.TotalRows = total
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleTables(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tables, err := deps.Store.ListTables(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		infos := make([]TableInfo, 0, len(tables))
		for _, name := range tables {
			info := TableInfo{Name: name}
			if n, err := deps.Store.CountRows(r.Context(), name); err != nil {
				info.Error = err.Error()
			} else {
				info.Rows = n
			}
			infos = append(infos, info)
		}
		writeJSON(w, http.StatusOK, infos)
	}
}

func contactID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
