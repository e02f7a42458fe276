// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package export

import (
	"testing"
	"time"

	"github.com/mbeema/threadhook/pkg/hook"

	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
)

func attrMap(kvs []*commonpb.KeyValue) map[string]*commonpb.AnyValue {
	m := make(map[string]*commonpb.AnyValue, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestBuildLogsRequest(t *testing.T) {
	observed := time.Unix(1700000000, 500)
	res := Resource{
		ServiceName:    "svc",
		ServiceVersion: "1.2.3",
		DeploymentEnv:  "prod",
		InstanceID:     "inst-1",
	}
	req := buildLogsRequest(res, []Record{
		{Event: hook.ThreadEvent{ThreadName: "worker-1", ThreadID: 7, TimestampNS: 99}, Observed: observed},
		{Event: hook.ThreadEvent{ThreadName: "worker-2", ThreadID: 8, ParentThreadID: 7, HasParent: true}, Observed: observed},
	})

	if len(req.ResourceLogs) != 1 {
		t.Fatalf("ResourceLogs = %d, want 1", len(req.ResourceLogs))
	}
	rl := req.ResourceLogs[0]

	rattrs := attrMap(rl.Resource.Attributes)
	if rattrs["service.name"].GetStringValue() != "svc" {
		t.Errorf("service.name = %v", rattrs["service.name"])
	}
	if rattrs["service.instance.id"].GetStringValue() != "inst-1" {
		t.Errorf("service.instance.id = %v", rattrs["service.instance.id"])
	}
	if rattrs["service.version"].GetStringValue() != "1.2.3" {
		t.Errorf("service.version = %v", rattrs["service.version"])
	}
	if rattrs["deployment.environment"].GetStringValue() != "prod" {
		t.Errorf("deployment.environment = %v", rattrs["deployment.environment"])
	}

	scope := rl.ScopeLogs[0]
	if scope.Scope.Name != "threadhook" {
		t.Errorf("scope = %q", scope.Scope.Name)
	}

	first := scope.LogRecords[0]
	if first.TimeUnixNano != uint64(observed.UnixNano()) {
		t.Errorf("TimeUnixNano = %d", first.TimeUnixNano)
	}
	if first.Body.GetStringValue() != "thread started" {
		t.Errorf("body = %v", first.Body)
	}
	a := attrMap(first.Attributes)
	if a["thread.name"].GetStringValue() != "worker-1" || a["thread.id"].GetIntValue() != 7 {
		t.Errorf("thread attrs = %v", a)
	}
	if a["thread.start.monotonic_ns"].GetIntValue() != 99 {
		t.Errorf("monotonic ts = %v", a["thread.start.monotonic_ns"])
	}
	if _, ok := a["thread.parent.id"]; ok {
		t.Error("worker-1 should not carry thread.parent.id")
	}

	second := attrMap(scope.LogRecords[1].Attributes)
	if second["thread.parent.id"].GetIntValue() != 7 {
		t.Errorf("thread.parent.id = %v, want 7", second["thread.parent.id"])
	}
}

func TestResourceOmitsEmptyOptionalAttrs(t *testing.T) {
	attrs := attrMap(resourceProto(Resource{ServiceName: "svc"}).Attributes)
	for _, k := range []string{"service.instance.id", "service.version", "deployment.environment"} {
		if _, ok := attrs[k]; ok {
			t.Errorf("unexpected %s on bare resource", k)
		}
	}
	if _, ok := attrs["process.pid"]; !ok {
		t.Error("process.pid missing")
	}
}
