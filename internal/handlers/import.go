package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/ingest"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/streaming"
)

// ImportHandlers handles statement upload and import streaming.
type ImportHandlers struct {
	ingestor *ingest.Ingestor
	hub      *streaming.Hub
}

// NewImportHandlers creates a new import handlers instance
func NewImportHandlers(ingestor *ingest.Ingestor, hub *streaming.Hub) *ImportHandlers {
	return &ImportHandlers{ingestor: ingestor, hub: hub}
}

// StartImport handles POST /api/banks/{bankId}/import. Files are read from
// the multipart form up front; the import itself runs in the background and
// reports over the session's SSE stream.
func (h *ImportHandlers) StartImport(w http.ResponseWriter, r *http.Request) {
	bankID := r.PathValue("bankId")
	if bankID == "" {
		http.Error(w, "Missing bank id", http.StatusBadRequest)
		return
	}

	// Max 100MB
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	uploads := make([]upload, 0, len(files))
	for _, fh := range files {
		data, err := readUpload(fh)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to read %s", fh.Filename), http.StatusBadRequest)
			return
		}
		uploads = append(uploads, upload{name: fh.Filename, data: data})
	}

	sessionID := uuid.NewString()
	go h.runImport(context.Background(), sessionID, bankID, uploads)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"sessionId":%q}`, sessionID)
}

type upload struct {
	name string
	data []byte
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// runImport processes the uploaded files sequentially, broadcasting one file
// event per file and a terminal complete event.
func (h *ImportHandlers) runImport(ctx context.Context, sessionID, bankID string, uploads []upload) {
	for i, up := range uploads {
		h.hub.Broadcast(sessionID, streaming.NewProgressEvent(streaming.ProgressEvent{
			FileName:   up.name,
			Processed:  i,
			Total:      len(uploads),
			Percentage: float64(i) / float64(len(uploads)) * 100,
		}))

		res, err := h.ingestor.Import(ctx, bankID, up.name, up.data)
		if err != nil {
			log.Printf("ERROR: importing %s for bank %s: %v", up.name, bankID, err)
			h.hub.Broadcast(sessionID, streaming.NewFileEvent(streaming.FileEvent{
				FileName: up.name,
				Status:   importErrorStatus(err),
				Error:    err.Error(),
			}))
			continue
		}

		status := "imported"
		if res.Duplicate {
			status = "duplicate"
		}
		h.hub.Broadcast(sessionID, streaming.NewFileEvent(streaming.FileEvent{
			FileName:     up.name,
			Status:       status,
			Transactions: res.Total,
			New:          res.New,
			Existing:     res.Existing,
		}))
	}

	h.hub.Broadcast(sessionID, streaming.NewCompleteEvent(map[string]string{"status": "completed"}))
}

func importErrorStatus(err error) string {
	if errors.Is(err, ingest.ErrNoTransactions) || errors.Is(err, ingest.ErrDecode) {
		return "unreadable"
	}
	return "error"
}

// StreamImport handles GET /api/imports/{id}/stream, the SSE feed for one
// import session.
func (h *ImportHandlers) StreamImport(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := h.hub.Register(r.Context(), sessionID)
	defer h.hub.Unregister(sessionID, client)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := writeSSE(w, event); err != nil {
				return
			}
			flusher.Flush()
			if event.Type == streaming.EventTypeComplete || event.Type == streaming.EventTypeError {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, event streaming.SSEEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
