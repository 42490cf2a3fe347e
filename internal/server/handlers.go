package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vanshika/kgcommit/internal/domain"
	"github.com/vanshika/kgcommit/internal/pipeline"
	"github.com/vanshika/kgcommit/internal/rerank"
	"github.com/vanshika/kgcommit/internal/service"
)

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger    *slog.Logger
	committer *service.Committer
	reranker  *rerank.Reranker
}

// NewAPIHandlers constructs an APIHandlers instance. Either component may be
// nil, in which case its route answers 503.
func NewAPIHandlers(logger *slog.Logger, committer *service.Committer, reranker *rerank.Reranker) *APIHandlers {
	return &APIHandlers{
		logger:    logger,
		committer: committer,
		reranker:  reranker,
	}
}

type rerankRequest struct {
	Query        string   `json:"query"`
	VectorResult []string `json:"vector_result"`
	GraphResult  []string `json:"graph_result"`
}

type rerankResponse struct {
	Query        string   `json:"query"`
	VectorResult []string `json:"vector_result"`
	GraphResult  []string `json:"graph_result"`
}

func (h *APIHandlers) handleRerank(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.reranker == nil {
		writeError(w, http.StatusServiceUnavailable, "reranker is not configured")
		return
	}

	var req rerankRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	data := pipeline.Context{
		pipeline.KeyVectorResult: req.VectorResult,
		pipeline.KeyGraphResult:  req.GraphResult,
	}
	if strings.TrimSpace(req.Query) != "" {
		data[pipeline.KeyQuery] = req.Query
	}

	out, err := h.reranker.Run(r.Context(), data)
	if err != nil {
		h.respondFailure(w, r, "rerank failed", err)
		return
	}

	vector, _ := out[pipeline.KeyVectorResult].([]string)
	graph, _ := out[pipeline.KeyGraphResult].([]string)
	respondJSON(w, http.StatusOK, rerankResponse{
		Query:        req.Query,
		VectorResult: vector,
		GraphResult:  graph,
	})
}

func (h *APIHandlers) handleCommit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if h.committer == nil {
		writeError(w, http.StatusServiceUnavailable, "committer is not configured")
		return
	}

	var req domain.GraphData
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request payload: "+err.Error())
		return
	}

	out, err := h.committer.Commit(r.Context(), req)
	if err != nil {
		h.respondFailure(w, r, "commit failed", err)
		return
	}
	if out.Vertices == nil {
		out.Vertices = []domain.Vertex{}
	}
	if out.Edges == nil {
		out.Edges = []domain.Edge{}
	}
	respondJSON(w, http.StatusOK, out)
}

// isClientError reports whether err was caused by the request content rather
// than by the server or the graph store.
func isClientError(err error) bool {
	return errors.Is(err, service.ErrEmptyInput) ||
		errors.Is(err, domain.ErrInvalidSchema) ||
		errors.Is(err, domain.ErrUnknownDataType) ||
		errors.Is(err, rerank.ErrMissingQuery)
}

func (h *APIHandlers) respondFailure(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if isClientError(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), msg, "error", err, "request_id", RequestID(r.Context()))
	writeError(w, http.StatusInternalServerError, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
