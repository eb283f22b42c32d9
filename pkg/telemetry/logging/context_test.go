package logging

import (
	"context"
	"testing"
)

func TestFields(t *testing.T) {
	if got := Fields(context.Background()); len(got) != 0 {
		t.Errorf("Fields(empty) = %v", got)
	}

	ctx := WithExecution(WithTenant(context.Background(), "acme"), "e-1", "DVIR-2")
	got := Fields(ctx)
	want := []string{"tenant_id", "execution_id", "policy_code"}
	if len(got) != len(want) {
		t.Fatalf("Fields() = %v, want keys %v", got, want)
	}
	for i, k := range want {
		if got[i].Key != k {
			t.Errorf("Fields()[%d].Key = %q, want %q", i, got[i].Key, k)
		}
	}
	if ExecutionID(ctx) != "e-1" || RequestID(ctx) != "" {
		t.Errorf("ExecutionID = %q, RequestID = %q", ExecutionID(ctx), RequestID(ctx))
	}
}
