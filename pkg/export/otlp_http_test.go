// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mbeema/threadhook/pkg/config"
	"github.com/mbeema/threadhook/pkg/hook"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
)

func newTestHTTPExporter(t *testing.T, compression string, handler http.HandlerFunc) (*HTTPOTLPExporter, *httptest.Server) {
	ts := httptest.NewServer(handler)
	cfg := &config.OTLPConfig{
		Endpoint:    strings.TrimPrefix(ts.URL, "http://"),
		Protocol:    "http",
		Compression: compression,
		Insecure:    true,
		Headers:     map[string]string{"X-Tenant": "ops"},
	}
	exp, err := NewHTTPOTLPExporter(cfg, Resource{ServiceName: "test-service", InstanceID: "abc"}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHTTPOTLPExporter: %v", err)
	}
	return exp, ts
}

func TestHTTPExporterPostsLogs(t *testing.T) {
	var gotPath, gotType, gotEncoding, gotTenant string
	var gotBody []byte

	exp, ts := newTestHTTPExporter(t, "gzip", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotEncoding = r.Header.Get("Content-Encoding")
		gotTenant = r.Header.Get("X-Tenant")

		var reader io.Reader = r.Body
		if gotEncoding == "gzip" {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("gzip reader: %v", err)
				return
			}
			defer gz.Close()
			reader = gz
		}
		gotBody, _ = io.ReadAll(reader)
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()

	records := []Record{
		{Event: hook.ThreadEvent{ThreadName: "worker-1", ThreadID: 101}, Observed: time.Now()},
		{Event: hook.ThreadEvent{ThreadName: "worker-2", ThreadID: 102, ParentThreadID: 101, HasParent: true}, Observed: time.Now()},
	}
	if err := exp.ExportEvents(context.Background(), records); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}

	if gotPath != "/v1/logs" {
		t.Errorf("path = %q, want /v1/logs", gotPath)
	}
	if gotType != "application/x-protobuf" {
		t.Errorf("content-type = %q", gotType)
	}
	if gotEncoding != "gzip" {
		t.Errorf("content-encoding = %q, want gzip", gotEncoding)
	}
	if gotTenant != "ops" {
		t.Errorf("custom header = %q, want ops", gotTenant)
	}

	var req collogspb.ExportLogsServiceRequest
	if err := proto.Unmarshal(gotBody, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	logs := req.ResourceLogs[0].ScopeLogs[0].LogRecords
	if len(logs) != 2 {
		t.Fatalf("got %d log records, want 2", len(logs))
	}
}

func TestHTTPExporterUncompressed(t *testing.T) {
	var gotEncoding string
	exp, ts := newTestHTTPExporter(t, "none", func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		w.WriteHeader(http.StatusOK)
	})
	defer ts.Close()

	err := exp.ExportEvents(context.Background(), []Record{{Event: hook.ThreadEvent{ThreadName: "w"}, Observed: time.Now()}})
	if err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	if gotEncoding != "" {
		t.Errorf("content-encoding = %q, want none", gotEncoding)
	}
}

func TestHTTPExporterErrorStatus(t *testing.T) {
	exp, ts := newTestHTTPExporter(t, "gzip", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer ts.Close()

	err := exp.ExportEvents(context.Background(), []Record{{Event: hook.ThreadEvent{ThreadName: "w"}, Observed: time.Now()}})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("expected 503 error, got %v", err)
	}
}

func TestHTTPExporterEmptyBatch(t *testing.T) {
	called := false
	exp, ts := newTestHTTPExporter(t, "gzip", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer ts.Close()

	if err := exp.ExportEvents(context.Background(), nil); err != nil {
		t.Fatalf("ExportEvents: %v", err)
	}
	if called {
		t.Error("empty batch should not hit the collector")
	}
}

func TestHTTPExporterEndpointScheme(t *testing.T) {
	cfg := &config.OTLPConfig{Endpoint: "collector:4318"}
	exp, _ := NewHTTPOTLPExporter(cfg, Resource{}, zap.NewNop())
	if exp.endpoint != "https://collector:4318" {
		t.Errorf("endpoint = %q, want https scheme", exp.endpoint)
	}

	cfg = &config.OTLPConfig{Endpoint: "http://collector:4318/", Insecure: true}
	exp, _ = NewHTTPOTLPExporter(cfg, Resource{}, zap.NewNop())
	if exp.endpoint != "http://collector:4318" {
		t.Errorf("endpoint = %q", exp.endpoint)
	}
}
