package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name   string
		server string
		want   string
	}{
		{"with http prefix", "http://localhost:5480", "http://localhost:5480"},
		{"with https prefix", "https://localhost:5480", "https://localhost:5480"},
		{"without prefix", "127.0.0.1:5480", "http://127.0.0.1:5480"},
		{"trailing slash", "http://admin.local/", "http://admin.local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient(tt.server, 0)
			if client.BaseURL() != tt.want {
				t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), tt.want)
			}
		})
	}
}

func TestHTTPClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if r.URL.Path != "/admin/v1/storage/stats" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("User-Agent") != "psastore-cli/1.0" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte(`{"code":"OK","data":{}}`))
	}))
	defer server.Close()

	resp, err := NewHTTPClient(server.URL, 0).Get(context.Background(), "/admin/v1/storage/stats")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHTTPClient_Post(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "" {
			t.Errorf("Content-Type should be empty for nil body, got %q", r.Header.Get("Content-Type"))
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	resp, err := NewHTTPClient(server.URL, 0).Post(context.Background(), "/admin/v1/storage/ps/snapshot", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHTTPClient_PostJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["service"] != "its" {
			t.Errorf("body = %v, err = %v", body, err)
		}
	}))
	defer server.Close()

	resp, err := NewHTTPClient(server.URL, 0).Post(context.Background(), "/x", map[string]string{"service": "its"})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	resp.Body.Close()
}

func serve(t *testing.T, status int, body string) *http.Response {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestParseResponse_UnwrapsData(t *testing.T) {
	resp := serve(t, http.StatusOK, `{"code":"OK","message":"Success","request_id":"req-1","data":{"status":"healthy"}}`)

	var result struct {
		Status string `json:"status"`
	}
	if err := ParseResponse(resp, &result); err != nil {
		t.Fatalf("ParseResponse failed: %v", err)
	}
	if result.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", result.Status)
	}
}

func TestParseResponse_NilTarget(t *testing.T) {
	resp := serve(t, http.StatusOK, `{"code":"OK","data":{"ignored":true}}`)
	if err := ParseResponse(resp, nil); err != nil {
		t.Errorf("ParseResponse with nil target should not error: %v", err)
	}
}

func TestParseResponse_Error(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"envelope", http.StatusNotFound, `{"code":"PS-SYS-4040","message":"unknown service"}`, "PS-SYS-4040", "[PS-SYS-4040] unknown service"},
		{"not json", http.StatusBadGateway, `bad gateway`, "", "request failed with status 502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseResponse(serve(t, tt.status, tt.body), nil)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *APIError", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.Code != tt.wantCode {
				t.Errorf("APIError = %+v", apiErr)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParseResponse_ErrorWithData(t *testing.T) {
	resp := serve(t, http.StatusServiceUnavailable, `{"code":"OK","data":{"status":"not_ready","services":{"ps":false}}}`)

	var result struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	err := ParseResponse(resp, &result)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want 503 APIError", err)
	}
	if result.Status != "not_ready" || result.Services["ps"] {
		t.Errorf("result = %+v", result)
	}
}

func TestManager_HTTPWithTLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"OK","data":{"status":"healthy"}}`))
	}))
	defer server.Close()

	pool := x509.NewCertPool()
	pool.AddCert(server.Certificate())
	m := NewManager(Target{Server: server.URL, TLS: &tls.Config{RootCAs: pool}})

	resp, err := m.HTTP().Get(context.Background(), "/health")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var data struct {
		Status string `json:"status"`
	}
	if err := ParseResponse(resp, &data); err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if data.Status != "healthy" {
		t.Errorf("status = %q", data.Status)
	}

	if _, err := NewHTTPClient(server.URL, 0).Get(context.Background(), "/health"); err == nil {
		t.Error("request without the test CA succeeded")
	}
}
