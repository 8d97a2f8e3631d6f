package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"csvsearch/internal/domain"
	"csvsearch/internal/logging"
	"csvsearch/internal/usecase"
)

const maxJSONBody = 1 << 20

// Replies of the /chat endpoint that are not search results.
const (
	chatEmptyMessage  = "Please provide a message to search."
	chatNoCollections = "No data collections available. Please upload a CSV file first."
	chatNoResults     = "No relevant results found for your query."
)

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := staticFiles.ReadFile("static/" + name)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", "", name+" not found")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(body)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "model": s.model})
}

type uploadResponse struct {
	domain.IngestSummary
	Count   int    `json:"count"`
	Message string `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.opts.MaxUploadBytes {
		s.fail(w, r, &http.MaxBytesError{Limit: s.opts.MaxUploadBytes})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, &domain.StageError{
			Stage: domain.StageParse,
			Err:   fmt.Errorf("%w: multipart field \"file\" is required: %v", domain.ErrMalformedFile, err),
		})
		return
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	name := usecase.CollectionName(header.Filename)
	unlock := s.locks.Lock(name)
	defer unlock()

	summary, err := s.ingest.Ingest(r.Context(), header.Filename, file, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		IngestSummary: summary,
		Count:         summary.RowsIngested,
		Message:       fmt.Sprintf("Successfully uploaded %d records to collection '%s'", summary.RowsIngested, summary.Collection),
	})
}

type queryRequest struct {
	Question   string   `json:"question"`
	Collection string   `json:"collection"`
	TopK       int      `json:"top_k"`
	Fields     []string `json:"fields"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", domain.StageQuery, err.Error())
		return
	}

	name := req.Collection
	if name == "" && strings.TrimSpace(req.Question) != "" {
		def, err := s.collections.Default(r.Context())
		if err != nil {
			s.fail(w, r, &domain.StageError{Stage: domain.StageQuery, Err: err})
			return
		}
		name = def
	}

	res, err := s.query.Query(r.Context(), usecase.QueryRequest{
		Collection: name,
		Question:   req.Question,
		TopK:       req.TopK,
		Fields:     req.Fields,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type chatRequest struct {
	Message    string `json:"message"`
	Collection string `json:"collection"`
}

type chatResponse struct {
	Response string             `json:"response"`
	Results  []domain.ResultRow `json:"results"`
}

// handleChat answers with rendered text and always returns 200; failures
// are reported inside the response text.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", domain.StageQuery, err.Error())
		return
	}
	text, rows := s.chat(r.Context(), req)
	if rows == nil {
		rows = []domain.ResultRow{}
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: text, Results: rows})
}

func (s *Server) chat(ctx context.Context, req chatRequest) (string, []domain.ResultRow) {
	if strings.TrimSpace(req.Message) == "" {
		return chatEmptyMessage, nil
	}

	name := req.Collection
	if name == "" {
		def, err := s.collections.Default(ctx)
		if errors.Is(err, domain.ErrCollectionNotFound) {
			return chatNoCollections, nil
		}
		if err != nil {
			return "Error searching: " + err.Error(), nil
		}
		name = def
	}

	res, err := s.query.Query(ctx, usecase.QueryRequest{Collection: name, Question: req.Message})
	if err != nil {
		logging.FromContext(ctx, s.logger).Warn("chat search failed", "collection", name, "err", err)
		return "Error searching: " + err.Error(), nil
	}
	if len(res.Rows) == 0 {
		return chatNoResults, res.Rows
	}
	return renderChat(res.Rows), res.Rows
}

// renderChat formats results as numbered blocks with their similarity as a
// percentage and any metadata on an "Additional info" line.
func renderChat(rows []domain.ResultRow) string {
	parts := make([]string, 0, len(rows)*3)
	for i, row := range rows {
		parts = append(parts, fmt.Sprintf("**Result %d** (Similarity: %.2f%%)\n%s", i+1, row.Score*100, row.Text))
		if len(row.Metadata) > 0 {
			keys := make([]string, 0, len(row.Metadata))
			for k := range row.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			pairs := make([]string, len(keys))
			for j, k := range keys {
				pairs[j] = k + ": " + row.Metadata[k]
			}
			parts = append(parts, "Additional info: "+strings.Join(pairs, ", "))
		}
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.collections.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if infos == nil {
		infos = []domain.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	unlock := s.locks.Lock(name)
	defer unlock()

	if err := s.collections.Delete(r.Context(), name); err != nil {
		s.fail(w, r, &domain.StageError{Stage: domain.StageStore, Collection: name, Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Collection '%s' deleted successfully", name),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
