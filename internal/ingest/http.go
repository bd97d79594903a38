package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"alertmanager/internal/domain"
	"alertmanager/internal/repo"
)

// AlertSink runs the processing pipeline for one normalized alert.
// Params: context, alert, and processing directives.
// Returns: terminal pipeline result or an infrastructure error.
type AlertSink interface {
	Process(ctx context.Context, alert domain.Alert, opts domain.QueryOptions) (domain.PipelineResult, error)
}

// HTTPHandler decodes pipe and JSON pushes and forwards them to the sink.
// Params: normalizer, sink, body limit, and logger.
// Returns: handlers mounted by the service on its mux.
type HTTPHandler struct {
	normalizer  *Normalizer
	sink        AlertSink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates the ingest HTTP handler.
// Params: normalizer, sink, max request body size in bytes, and logger.
// Returns: configured handler.
func NewHTTPHandler(normalizer *Normalizer, sink AlertSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{normalizer: normalizer, sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// HandlePipe handles one pipe-separated push request.
// Params: HTTP request/response writer pair.
// Returns: writes the pipeline result as JSON.
func (h *HTTPHandler) HandlePipe(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	opts := queryOptions(request)
	alert, err := h.normalizer.ParsePipe(string(body), opts)
	if err != nil {
		h.writeMalformed(writer, err)
		return
	}
	h.process(writer, request, alert, opts)
}

// HandleJSON handles one JSON push request.
// Params: HTTP request/response writer pair.
// Returns: writes the pipeline result as JSON.
func (h *HTTPHandler) HandleJSON(writer http.ResponseWriter, request *http.Request) {
	body, ok := h.readBody(writer, request)
	if !ok {
		return
	}
	opts := queryOptions(request)
	alert, err := h.normalizer.ParseJSON(body, opts)
	if err != nil {
		h.writeMalformed(writer, err)
		return
	}
	h.process(writer, request, alert, opts)
}

// readBody enforces method and size limits on one request.
// Params: HTTP request/response writer pair.
// Returns: request body and true, or false after writing an error status.
func (h *HTTPHandler) readBody(writer http.ResponseWriter, request *http.Request) ([]byte, bool) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

// process runs the pipeline and renders its result.
// Params: writer, request, normalized alert, and directives.
// Returns: 200 with the result; 503 when infrastructure failed.
func (h *HTTPHandler) process(writer http.ResponseWriter, request *http.Request, alert domain.Alert, opts domain.QueryOptions) {
	result, err := h.sink.Process(request.Context(), alert, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repo.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		h.logger.Error("pipeline failed",
			"event_id", alert.EventID, "project", alert.Project, "error", err.Error())
		writeJSON(writer, status, domain.PipelineResult{
			Status:  result.Status,
			EventID: alert.EventID,
			Detail:  err.Error(),
		})
		return
	}
	writeJSON(writer, http.StatusOK, result)
}

// writeMalformed renders a rejected-malformed result.
// Params: writer and normalization error.
// Returns: 400 with the structured verdict.
func (h *HTTPHandler) writeMalformed(writer http.ResponseWriter, err error) {
	writeJSON(writer, http.StatusBadRequest, domain.PipelineResult{
		Status: domain.StatusMalformed,
		Detail: err.Error(),
	})
}

// queryOptions extracts processing directives from query parameters.
// Params: HTTP request.
// Returns: directives; "notsendmsg=1" suppresses sends and "syncdata=0" or
// "syncdata=1" (replicated traffic) skips replication.
func queryOptions(request *http.Request) domain.QueryOptions {
	values := request.URL.Query()
	syncValue := values.Get("syncdata")
	return domain.QueryOptions{
		ProjectIdentify: values.Get("projectIdentify"),
		SuppressSend:    values.Get("notsendmsg") == "1",
		SkipSync:        syncValue == "0" || syncValue == "1",
	}
}

// writeJSON renders one JSON response.
// Params: writer, status code, and payload.
// Returns: nothing; encode failures are ignored after headers are out.
func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
