package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/bankrecon/internal/ingest"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/store/memory"
	"github.com/rumor-ml/commons.systems/bankrecon/internal/streaming"
)

const testOFX = `OFXHEADER:100
DATA:OFXSGML

<OFX>
<BANKTRANLIST>
<STMTTRN>
<DTPOSTED>20260210
<TRNAMT>-150.00
<FITID>abc123
<MEMO>PADARIA XYZ
</STMTTRN>
</BANKTRANLIST>
</OFX>
`

func multipartUpload(t *testing.T, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", fileName)
	if err != nil {
		t.Fatalf("creating form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("writing form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

// TestStartImport_ReturnsSession verifies the upload endpoint starts a session
func TestStartImport_ReturnsSession(t *testing.T) {
	mem := memory.New()
	handler := NewImportHandlers(ingest.New(mem.Stores()), streaming.NewHub())

	body, contentType := multipartUpload(t, "extrato.ofx", []byte(testOFX))
	req := httptest.NewRequest("POST", "/api/banks/bank-1/import", body)
	req.Header.Set("Content-Type", contentType)
	req.SetPathValue("bankId", "bank-1")
	w := httptest.NewRecorder()

	handler.StartImport(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatal("Expected a session id")
	}

	// The import runs in the background; wait for the rows to land
	deadline := time.After(2 * time.Second)
	for {
		txns, err := mem.ListByBank(context.Background(), "bank-1", "", "")
		if err != nil {
			t.Fatalf("listing transactions: %v", err)
		}
		if len(txns) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Timeout waiting for import, got %d transactions", len(txns))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestStartImport_NoFiles verifies 400 when the form has no files
func TestStartImport_NoFiles(t *testing.T) {
	mem := memory.New()
	handler := NewImportHandlers(ingest.New(mem.Stores()), streaming.NewHub())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	req := httptest.NewRequest("POST", "/api/banks/bank-1/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetPathValue("bankId", "bank-1")
	w := httptest.NewRecorder()

	handler.StartImport(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestRunImport_BroadcastsEvents verifies the event sequence for one file
func TestRunImport_BroadcastsEvents(t *testing.T) {
	mem := memory.New()
	hub := streaming.NewHub()
	handler := NewImportHandlers(ingest.New(mem.Stores()), hub)

	sessionID := "session-1"
	client := hub.Register(context.Background(), sessionID)

	go handler.runImport(context.Background(), sessionID, "bank-1", []upload{
		{name: "extrato.ofx", data: []byte(testOFX)},
	})

	var types []streaming.EventType
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				t.Fatal("Client channel closed before the complete event")
			}
			types = append(types, event.Type)
			if event.Type == streaming.EventTypeComplete {
				want := []streaming.EventType{
					streaming.EventTypeProgress,
					streaming.EventTypeFile,
					streaming.EventTypeComplete,
				}
				if len(types) != len(want) {
					t.Fatalf("Expected %d events, got %v", len(want), types)
				}
				for i := range want {
					if types[i] != want[i] {
						t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
					}
				}
				return
			}
		case <-timeout:
			t.Fatalf("Timeout waiting for events, got %v", types)
		}
	}
}

// TestRunImport_UnreadableFile verifies the unreadable status on decode failures
func TestRunImport_UnreadableFile(t *testing.T) {
	mem := memory.New()
	hub := streaming.NewHub()
	handler := NewImportHandlers(ingest.New(mem.Stores()), hub)

	sessionID := "session-2"
	client := hub.Register(context.Background(), sessionID)

	go handler.runImport(context.Background(), sessionID, "bank-1", []upload{
		{name: "vazio.ofx", data: nil},
	})

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-client.Events:
			if event.Type != streaming.EventTypeFile {
				continue
			}
			fe, ok := event.Data.(streaming.FileEvent)
			if !ok {
				t.Fatalf("Unexpected file event payload %T", event.Data)
			}
			if fe.Status != "unreadable" {
				t.Errorf("Expected status unreadable, got %s", fe.Status)
			}
			return
		case <-timeout:
			t.Fatal("Timeout waiting for file event")
		}
	}
}

func TestImportErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ingest.ErrNoTransactions, "unreadable"},
		{ingest.ErrDecode, "unreadable"},
		{errors.New("boom"), "error"},
	}
	for _, c := range cases {
		if got := importErrorStatus(c.err); got != c.want {
			t.Errorf("importErrorStatus(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}
