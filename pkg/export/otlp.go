// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/mbeema/threadhook/pkg/config"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip compressor

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
)

const (
	scopeName    = "threadhook"
	scopeVersion = "0.1.0"

	threadStartBody = "thread started"
)

// OTLPExporter sends thread-start records as OTLP log records over gRPC,
// reconnecting when the channel has failed.
type OTLPExporter struct {
	logger   *zap.Logger
	resource Resource
	endpoint string
	opts     []grpc.DialOption

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	logSvc collogspb.LogsServiceClient
}

// NewOTLPExporter creates a new OTLP gRPC exporter.
func NewOTLPExporter(cfg *config.OTLPConfig, res Resource, logger *zap.Logger) (*OTLPExporter, error) {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(4 * 1024 * 1024)),
	}

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if cfg.Compression == "" || cfg.Compression == "gzip" {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.UseCompressor("gzip")))
	}

	e := &OTLPExporter{
		logger:   logger,
		resource: res,
		endpoint: cfg.Endpoint,
		opts:     opts,
	}

	if err := e.connect(); err != nil {
		return nil, err
	}

	return e, nil
}

// connect establishes the gRPC connection. Caller holds e.mu or owns e.
func (e *OTLPExporter) connect() error {
	conn, err := grpc.Dial(e.endpoint, e.opts...)
	if err != nil {
		return fmt.Errorf("dial OTLP endpoint %s: %w", e.endpoint, err)
	}

	e.conn = conn
	e.logSvc = collogspb.NewLogsServiceClient(conn)
	return nil
}

// ensureConnected reconnects when the channel is in a failed state.
func (e *OTLPExporter) ensureConnected() error {
	e.mu.RLock()
	conn := e.conn
	e.mu.RUnlock()

	if conn == nil {
		return e.reconnect()
	}

	switch conn.GetState() {
	case connectivity.TransientFailure, connectivity.Shutdown:
		return e.reconnect()
	default:
		return nil
	}
}

func (e *OTLPExporter) reconnect() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		state := e.conn.GetState()
		if state == connectivity.Ready || state == connectivity.Idle {
			return nil
		}
		e.conn.Close()
	}

	e.logger.Info("reconnecting to OTLP endpoint", zap.String("endpoint", e.endpoint))
	if err := e.connect(); err != nil {
		e.logger.Error("reconnect failed", zap.Error(err))
		return err
	}
	return nil
}

// ExportEvents sends one ExportLogsServiceRequest per batch.
func (e *OTLPExporter) ExportEvents(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	if err := e.ensureConnected(); err != nil {
		return fmt.Errorf("connection not ready: %w", err)
	}

	req := buildLogsRequest(e.resource, records)

	e.mu.RLock()
	svc := e.logSvc
	e.mu.RUnlock()

	_, err := svc.Export(ctx, req)
	return err
}

// Shutdown closes the gRPC connection.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// buildLogsRequest converts a batch into a single-resource OTLP request.
// Shared by the gRPC and HTTP exporters.
func buildLogsRequest(res Resource, records []Record) *collogspb.ExportLogsServiceRequest {
	logRecords := make([]*logspb.LogRecord, 0, len(records))
	for _, r := range records {
		logRecords = append(logRecords, convertRecord(r))
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{
			{
				Resource: resourceProto(res),
				ScopeLogs: []*logspb.ScopeLogs{
					{
						Scope: &commonpb.InstrumentationScope{
							Name:    scopeName,
							Version: scopeVersion,
						},
						LogRecords: logRecords,
					},
				},
			},
		},
	}
}

func convertRecord(r Record) *logspb.LogRecord {
	ev := r.Event
	ts := uint64(r.Observed.UnixNano())

	attrs := []*commonpb.KeyValue{
		strAttr("thread.name", ev.ThreadName),
		intAttr("thread.id", ev.ThreadID),
		intAttr("thread.start.monotonic_ns", ev.TimestampNS),
	}
	if parent, ok := ev.Parent(); ok {
		attrs = append(attrs, intAttr("thread.parent.id", parent))
	}

	return &logspb.LogRecord{
		TimeUnixNano:         ts,
		ObservedTimeUnixNano: ts,
		SeverityNumber:       logspb.SeverityNumber_SEVERITY_NUMBER_INFO,
		SeverityText:         "INFO",
		Body: &commonpb.AnyValue{
			Value: &commonpb.AnyValue_StringValue{StringValue: threadStartBody},
		},
		Attributes: attrs,
	}
}

func resourceProto(res Resource) *resourcepb.Resource {
	hostname, _ := os.Hostname()

	attrs := []*commonpb.KeyValue{
		strAttr("service.name", res.ServiceName),
		strAttr("telemetry.sdk.name", scopeName),
		strAttr("telemetry.sdk.language", "go"),
		strAttr("telemetry.sdk.version", scopeVersion),
		strAttr("host.name", hostname),
		strAttr("host.arch", runtime.GOARCH),
		intAttr("process.pid", int64(os.Getpid())),
	}
	if res.InstanceID != "" {
		attrs = append(attrs, strAttr("service.instance.id", res.InstanceID))
	}
	if res.ServiceVersion != "" {
		attrs = append(attrs, strAttr("service.version", res.ServiceVersion))
	}
	if res.DeploymentEnv != "" {
		attrs = append(attrs, strAttr("deployment.environment", res.DeploymentEnv))
	}

	return &resourcepb.Resource{Attributes: attrs}
}

func strAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}
