package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wilhg/agentsim/pkg/errmodel"
)

type sumTool struct{}

func (sumTool) Describe() Descriptor {
	return Descriptor{
		Name:         "sum",
		InputSchema:  []byte(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"],"additionalProperties":false}`),
		OutputSchema: []byte(`{"type":"object","properties":{"sum":{"type":"number"}},"required":["sum"],"additionalProperties":false}`),
		Permissions:  []Permission{{Name: "cpu"}},
	}
}

func (sumTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)
	return map[string]any{"sum": a + b}, nil
}

type badOutputTool struct{}

func (badOutputTool) Describe() Descriptor {
	return Descriptor{
		Name:         "bad",
		OutputSchema: []byte(`{"type":"object","properties":{"ok":{"type":"boolean"}},"required":["ok"]}`),
	}
}

func (badOutputTool) Invoke(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"ok": "nope"}, nil
}

type slowTool struct{ d time.Duration }

func (slowTool) Describe() Descriptor { return Descriptor{Name: "slow"} }

func (s slowTool) Invoke(context.Context, map[string]any) (map[string]any, error) {
	time.Sleep(s.d) // ignores ctx on purpose
	return map[string]any{}, nil
}

type failingTool struct{ err error }

func (failingTool) Describe() Descriptor { return Descriptor{Name: "fail"} }

func (f failingTool) Invoke(context.Context, map[string]any) (map[string]any, error) {
	return nil, f.err
}

func TestRegistryAndSafeInvoke(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(sumTool{}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(sumTool{}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	tl, ok := reg.Resolve("sum")
	if !ok {
		t.Fatal("tool not resolved")
	}
	_, err := SafeInvoke(context.Background(), tl, map[string]any{"a": 1.0, "b": 2.0}, map[string]bool{}, nil)
	if !errmodel.IsCategory(err, errmodel.CategoryPolicy) {
		t.Fatalf("expected policy error, got %v", err)
	}
	out, err := SafeInvoke(context.Background(), tl, map[string]any{"a": 1.0, "b": 2.0}, map[string]bool{"cpu": true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out["sum"] != 3.0 {
		t.Fatalf("sum = %v", out["sum"])
	}
	_, err = SafeInvoke(context.Background(), tl, map[string]any{"a": "x", "b": 2.0}, map[string]bool{"cpu": true}, nil)
	if ce := errmodel.From(err); ce == nil || ce.Code != "invalid_input" {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestSafeInvokeInvalidOutput(t *testing.T) {
	_, err := SafeInvoke(context.Background(), badOutputTool{}, nil, nil, nil)
	ce := errmodel.From(err)
	if ce == nil || ce.Code != "invalid_output" || ce.Context["tool"] != "bad" {
		t.Fatalf("expected invalid_output for bad, got %+v", ce)
	}
}

func TestRegisterRejectsBrokenSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(schemaTool{schema: []byte(`{"type":`)})
	if err == nil {
		t.Fatal("expected schema error")
	}
}

type schemaTool struct{ schema []byte }

func (s schemaTool) Describe() Descriptor { return Descriptor{Name: "schema", InputSchema: s.schema} }
func (schemaTool) Invoke(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestDescriptorsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, tl := range []Tool{sumTool{}, badOutputTool{}, slowTool{}} {
		if err := reg.Register(tl); err != nil {
			t.Fatal(err)
		}
	}
	ds := reg.Descriptors()
	if len(ds) != 3 || ds[0].Name != "bad" || ds[1].Name != "slow" || ds[2].Name != "sum" {
		t.Fatalf("unexpected order: %+v", ds)
	}
}

func TestExecutorSuccessAndNotFound(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(sumTool{})
	ex := NewExecutor(reg, WithPermissions("cpu"))

	res := ex.Execute(context.Background(), Call{Name: "sum", Args: map[string]any{"a": 2.0, "b": 5.0}})
	if !res.Success || res.Data["sum"] != 7.0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	res = ex.Execute(context.Background(), Call{Name: "missing"})
	if res.Success || res.Error == "" {
		t.Fatalf("expected not found failure: %+v", res)
	}
}

func TestExecutorTimeout(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(slowTool{d: 500 * time.Millisecond})
	ex := NewExecutor(reg, WithTimeout(20*time.Millisecond))

	start := time.Now()
	res := ex.Execute(context.Background(), Call{Name: "slow"})
	if res.Success || !res.TimedOut || !res.Retryable {
		t.Fatalf("expected timeout: %+v", res)
	}
	if time.Since(start) > 300*time.Millisecond {
		t.Fatal("executor waited for the tool")
	}
}

func TestExecutorFailureRetryable(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(failingTool{err: errors.New("upstream down")})
	ex := NewExecutor(reg)
	res := ex.Execute(context.Background(), Call{Name: "fail"})
	if res.Success || !res.Retryable {
		t.Fatalf("plain tool failures should be retryable: %+v", res)
	}

	reg = NewRegistry()
	_ = reg.Register(failingTool{err: errmodel.Validation("bad", "bad args", nil)})
	res = NewExecutor(reg).Execute(context.Background(), Call{Name: "fail"})
	if res.Success || res.Retryable {
		t.Fatalf("validation failures are not retryable: %+v", res)
	}
}

func TestExecuteAllCaps(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(sumTool{})
	ex := NewExecutor(reg, WithPermissions("cpu"))
	calls := []Call{
		{Name: "sum", Args: map[string]any{"a": 1.0, "b": 1.0}},
		{Name: "sum", Args: map[string]any{"a": 2.0, "b": 2.0}},
		{Name: "sum", Args: map[string]any{"a": 3.0, "b": 3.0}},
	}
	res := ex.ExecuteAll(context.Background(), calls, 2)
	if len(res) != 2 || res[1].Data["sum"] != 4.0 {
		t.Fatalf("unexpected results: %+v", res)
	}
}

func TestExecutorBounded(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(slowTool{d: 200 * time.Millisecond})
	ex := NewExecutor(reg, WithTimeout(time.Second))
	if res := ex.Bounded(10 * time.Millisecond).Execute(context.Background(), Call{Name: "slow"}); !res.TimedOut {
		t.Fatalf("expected bounded copy to time out: %+v", res)
	}
	if ex.Bounded(0) != ex {
		t.Fatal("zero bound should keep the executor")
	}
}
