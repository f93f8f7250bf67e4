package wacloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/warelay/internal/config"
)

func testClient(baseURL string) *Client {
	return New(config.WhatsAppConfig{
		Token:         "test-token",
		PhoneNumberID: "12345",
		APIBase:       baseURL,
	})
}

// TestSendText posts the Cloud API text payload with auth.
func TestSendText(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"messages":[{"id":"wamid.OUT"}]}`))
	}))
	defer server.Close()

	err := testClient(server.URL).SendText(context.Background(), "5215550001111", "Hola")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if gotPath != "/12345/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["type"] != "text" || gotBody["to"] != "5215550001111" {
		t.Errorf("body = %v", gotBody)
	}
	text, _ := gotBody["text"].(map[string]interface{})
	if text["body"] != "Hola" {
		t.Errorf("text = %v", text)
	}
}

// TestSendTextAPIError surfaces the Graph API error body.
func TestSendTextAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Object does not exist"}}`))
	}))
	defer server.Close()

	err := testClient(server.URL).SendText(context.Background(), "5215550001111", "Hola")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "status 400") || !strings.Contains(err.Error(), "Object does not exist") {
		t.Errorf("error = %v", err)
	}
}

// TestSendAudio uploads media then references its id in an audio send.
func TestSendAudio(t *testing.T) {
	var uploadType string
	var sendBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/12345/media":
			r.ParseMultipartForm(1 << 20)
			uploadType = r.FormValue("type")
			if _, _, err := r.FormFile("file"); err != nil {
				t.Errorf("missing file part: %v", err)
			}
			w.Write([]byte(`{"id":"media-77"}`))
		case "/12345/messages":
			json.NewDecoder(r.Body).Decode(&sendBody)
			w.Write([]byte(`{"messages":[{"id":"wamid.OUT"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	err := testClient(server.URL).SendAudio(context.Background(), "5215550001111", []byte("mp3-bytes"))
	if err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if uploadType != "audio/mpeg" {
		t.Errorf("upload type = %q", uploadType)
	}
	audio, _ := sendBody["audio"].(map[string]interface{})
	if sendBody["type"] != "audio" || audio["id"] != "media-77" {
		t.Errorf("send body = %v", sendBody)
	}
}

// TestMarkRead posts a read status for the message id.
func TestMarkRead(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	if err := testClient(server.URL).MarkRead(context.Background(), "wamid.IN"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if gotBody["status"] != "read" || gotBody["message_id"] != "wamid.IN" {
		t.Errorf("body = %v", gotBody)
	}
}

// TestDownloadMedia resolves the media url then fetches the bytes, with
// the bearer token on both hops.
func TestDownloadMedia(t *testing.T) {
	var metaAuth, fileAuth string
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media-9":
			metaAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]string{
				"url":       server.URL + "/files/media-9",
				"mime_type": "audio/ogg",
			})
		case "/files/media-9":
			fileAuth = r.Header.Get("Authorization")
			w.Write([]byte("ogg-bytes"))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	data, mime, err := testClient(server.URL).DownloadMedia(context.Background(), "media-9")
	if err != nil {
		t.Fatalf("DownloadMedia: %v", err)
	}
	if string(data) != "ogg-bytes" || mime != "audio/ogg" {
		t.Errorf("data/mime = %q/%q", data, mime)
	}
	if metaAuth != "Bearer test-token" || fileAuth != "Bearer test-token" {
		t.Errorf("auth headers = %q / %q", metaAuth, fileAuth)
	}
}

// TestDownloadMediaExpiredURL surfaces the second-hop failure.
func TestDownloadMediaExpiredURL(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/media-9" {
			json.NewEncoder(w).Encode(map[string]string{"url": server.URL + "/files/gone"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if _, _, err := testClient(server.URL).DownloadMedia(context.Background(), "media-9"); err == nil {
		t.Fatal("expected error")
	}
}

// TestUnconfiguredClient fails fast without credentials.
func TestUnconfiguredClient(t *testing.T) {
	c := New(config.WhatsAppConfig{APIBase: "https://example.invalid"})
	if c.Configured() {
		t.Error("Configured() = true without credentials")
	}
	if err := c.SendText(context.Background(), "555", "hi"); err == nil {
		t.Error("expected error from unconfigured send")
	}
	if _, _, err := c.DownloadMedia(context.Background(), "m"); err == nil {
		t.Error("expected error from unconfigured download")
	}
}
