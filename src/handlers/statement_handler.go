package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/username/ledgerlens/src/config"
	"github.com/username/ledgerlens/src/logger"
	"github.com/username/ledgerlens/src/security/validation"
	"github.com/username/ledgerlens/src/services"
	"github.com/username/ledgerlens/src/utils"
)

type StatementHandler struct {
	statementService *services.StatementService
}

func NewStatementHandler(service *services.StatementService) *StatementHandler {
	return &StatementHandler{
		statementService: service,
	}
}

// HandleUpload ingests one statement's extraction text and runs the full
// pipeline on it. It accepts either a multipart form with a 'statement' file
// field or the text itself as the request body.
func (h *StatementHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}

	var filename, clientContentType string
	var content []byte
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		filename, clientContentType, content, ok = h.readMultipartUpload(w, r)
	} else {
		filename, clientContentType, content, ok = h.readRawUpload(w, r)
	}
	if !ok {
		return
	}

	fileType := strings.ToLower(strings.Split(clientContentType, ";")[0])
	result, err := h.statementService.Process(r.Context(), userID, filename, fileType, string(content), int64(len(content)))
	if err != nil {
		h.writeProcessError(w, r, err, result)
		return
	}

	utils.SendJSONResponse(w, http.StatusOK, result)
}

// readMultipartUpload pulls the statement text out of a multipart form. On
// failure the response has already been written and ok is false.
func (h *StatementHandler) readMultipartUpload(w http.ResponseWriter, r *http.Request) (filename, clientContentType string, content []byte, ok bool) {
	ctxLogger := logger.FromContext(r.Context())

	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		ctxLogger.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("failed to parse upload or file too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return "", "", nil, false
	}

	file, fileHeader, err := r.FormFile("statement")
	if err != nil {
		ctxLogger.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "failed to retrieve file from request. Ensure 'statement' field is used.", http.StatusBadRequest)
		return "", "", nil, false
	}
	defer file.Close()

	if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
		ctxLogger.Warn("Uploaded file too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("file too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return "", "", nil, false
	}

	clientContentType = fileHeader.Header.Get("Content-Type")
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		ctxLogger.Warn("Invalid client-declared file type", "contentType", clientContentType, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return "", "", nil, false
	}

	detectedContentType, err := validation.ValidateTextContent(file)
	if err != nil {
		ctxLogger.Warn("Payload content validation failed", "filename", fileHeader.Filename, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return "", "", nil, false
	}
	ctxLogger.Info("Upload content validated", "filename", fileHeader.Filename, "clientType", clientContentType, "detectedType", detectedContentType)

	content, err = io.ReadAll(file)
	if err != nil {
		ctxLogger.Error("Failed to read upload payload", "error", err)
		utils.SendJSONError(w, "failed to read upload payload", http.StatusInternalServerError)
		return "", "", nil, false
	}
	return fileHeader.Filename, clientContentType, content, true
}

// readRawUpload treats the request body itself as the statement text. The
// Content-Type header stands in for the file type and defaults to plain text.
func (h *StatementHandler) readRawUpload(w http.ResponseWriter, r *http.Request) (filename, clientContentType string, content []byte, ok bool) {
	ctxLogger := logger.FromContext(r.Context())

	clientContentType = r.Header.Get("Content-Type")
	if clientContentType == "" {
		clientContentType = "text/plain"
	}
	if err := validation.ValidateClientContentType(clientContentType); err != nil {
		ctxLogger.Warn("Invalid client-declared file type", "contentType", clientContentType, "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return "", "", nil, false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, config.Cfg.MaxUploadSizeBytes))
	if err != nil {
		ctxLogger.Warn("Failed to read raw upload body", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("failed to read upload or body too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return "", "", nil, false
	}

	detectedContentType, err := validation.ValidateTextContent(bytes.NewReader(body))
	if err != nil {
		ctxLogger.Warn("Payload content validation failed", "error", err)
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return "", "", nil, false
	}

	filename = r.URL.Query().Get("filename")
	if filename == "" {
		filename = "statement.txt"
	}
	ctxLogger.Info("Upload content validated", "filename", filename, "clientType", clientContentType, "detectedType", detectedContentType)
	return filename, clientContentType, body, true
}

func (h *StatementHandler) writeProcessError(w http.ResponseWriter, r *http.Request, err error, result *services.ProcessResult) {
	ctxLogger := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, services.ErrDocumentInvalid):
		ctxLogger.Warn("Statement rejected by schema validation", "error", err)
		payload := map[string]any{"error": err.Error()}
		if result != nil && result.Validation != nil {
			payload["validation"] = result.Validation
		}
		utils.SendJSONResponse(w, http.StatusUnprocessableEntity, payload)
	case errors.Is(err, services.ErrExtractionFailed):
		ctxLogger.Error("Extraction backend failed", "error", err)
		utils.SendJSONError(w, "extraction failed, try again later", http.StatusBadGateway)
	default:
		ctxLogger.Error("Statement processing failed", "error", err)
		utils.SendJSONError(w, "failed to process statement", http.StatusInternalServerError)
	}
}

// HandleGetStatement returns one statement record.
func (h *StatementHandler) HandleGetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}

	statementID := chi.URLParam(r, "id")
	st, err := h.statementService.GetStatement(r.Context(), userID, statementID)
	if errors.Is(err, services.ErrStatementNotFound) {
		utils.SendJSONError(w, "statement not found", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load statement", "statementID", statementID, "error", err)
		utils.SendJSONError(w, "failed to load statement", http.StatusInternalServerError)
		return
	}
	utils.SendJSONResponse(w, http.StatusOK, st)
}

// HandleGetQuality returns the quality-check outcome for one statement.
func (h *StatementHandler) HandleGetQuality(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}

	statementID := chi.URLParam(r, "id")
	qc, err := h.statementService.GetQuality(r.Context(), userID, statementID)
	switch {
	case errors.Is(err, services.ErrStatementNotFound):
		utils.SendJSONError(w, "statement not found", http.StatusNotFound)
	case errors.Is(err, services.ErrNoQualityCheck):
		utils.SendJSONError(w, "no quality check recorded for statement", http.StatusNotFound)
	case err != nil:
		logger.FromContext(r.Context()).Error("Failed to load quality check", "statementID", statementID, "error", err)
		utils.SendJSONError(w, "failed to load quality check", http.StatusInternalServerError)
	default:
		utils.SendJSONResponse(w, http.StatusOK, qc)
	}
}

type compareRequest struct {
	ResultA string `json:"result_a"`
	ResultB string `json:"result_b"`
}

// HandleCompare checks two independent extraction results for the same
// source material against each other.
func (h *StatementHandler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	if _, ok := GetUserIDFromContext(r.Context()); !ok {
		utils.SendJSONError(w, "user identity required", http.StatusUnauthorized)
		return
	}
	ctxLogger := logger.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, config.Cfg.MaxUploadSizeBytes)
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctxLogger.Warn("Invalid compare request body", "error", err)
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ResultA == "" || req.ResultB == "" {
		utils.SendJSONError(w, "both result_a and result_b are required", http.StatusBadRequest)
		return
	}

	report, vresA, vresB, err := h.statementService.Compare(req.ResultA, req.ResultB)
	if err != nil {
		ctxLogger.Warn("Comparison rejected", "error", err)
		utils.SendJSONResponse(w, http.StatusUnprocessableEntity, map[string]any{
			"error":        err.Error(),
			"validation_a": vresA,
			"validation_b": vresB,
		})
		return
	}
	utils.SendJSONResponse(w, http.StatusOK, report)
}
