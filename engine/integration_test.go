package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dshills/flowmonkey-go/engine"
	"github.com/dshills/flowmonkey-go/jobs"
	"github.com/dshills/flowmonkey-go/store"
	"github.com/dshills/flowmonkey-go/store/memstore"
)

// newTestRig wires a full set of in-memory stores exactly the way a
// caller assembling the engine for the first time would, registering
// every handler type before any flow that references it so
// engine.ValidateFlow always has a handler to resolve.
type testRig struct {
	engine   *engine.Engine
	flows    *memstore.FlowRegistry
	handlers *memstore.HandlerRegistry
	tables   *memstore.TableStore
	tableReg *memstore.TableRegistry
	wal      *memstore.WriteAheadLog
	tokens   *memstore.ResumeTokenStore
	now      time.Time
}

func newTestRig(t *testing.T, opts ...engine.Option) *testRig {
	t.Helper()
	execs := memstore.NewExecutionStore()
	flows := memstore.NewFlowRegistry()
	handlers := memstore.NewHandlerRegistry()
	tableReg := memstore.NewTableRegistry()
	tables := memstore.NewTableStore()
	wal := memstore.NewWriteAheadLog()
	tokenStore := memstore.NewResumeTokenStore()

	rig := &testRig{
		flows:    flows,
		handlers: handlers,
		tables:   tables,
		tableReg: tableReg,
		wal:      wal,
		tokens:   tokenStore,
		now:      time.Now().UTC().Truncate(time.Second),
	}

	base := []engine.Option{
		engine.WithResumeTokens(tokenStore),
		engine.WithPipes(tables, wal),
		engine.WithClock(func() time.Time { return rig.now }),
	}
	eng, err := engine.New(execs, flows, handlers, append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	rig.engine = eng
	return rig
}

func mustRegisterHandler(t *testing.T, handlers *memstore.HandlerRegistry, typ string, fn engine.HandlerFunc) {
	t.Helper()
	if err := handlers.Register(typ, store.HandlerDescriptor{Type: typ}, fn); err != nil {
		t.Fatalf("register handler %s: %v", typ, err)
	}
}

func mustRegisterFlow(t *testing.T, rig *testRig, flow *store.Flow) {
	t.Helper()
	if err := engine.ValidateFlow(context.Background(), flow, rig.handlers, rig.tableReg); err != nil {
		t.Fatalf("validate flow %s: %v", flow.ID, err)
	}
	if err := rig.flows.Register(context.Background(), flow); err != nil {
		t.Fatalf("register flow %s: %v", flow.ID, err)
	}
}

// S1 Linear success: flow "hello" with handlers greet and shout.
func TestS1LinearSuccess(t *testing.T) {
	rig := newTestRig(t)

	mustRegisterHandler(t, rig.handlers, "greet", func(_ context.Context, p engine.HandlerParams) engine.StepResult {
		in := p.Input.(map[string]any)
		name, _ := in["name"].(string)
		return engine.Success(map[string]any{"greeting": "Hello, " + name + "!"})
	})
	mustRegisterHandler(t, rig.handlers, "shout", func(_ context.Context, p engine.HandlerParams) engine.StepResult {
		s, _ := p.Input.(string)
		return engine.Success(strings.ToUpper(s))
	})

	flow := &store.Flow{
		ID:            "hello",
		Version:       "1",
		InitialStepID: "greet",
		Steps: map[string]store.Step{
			"greet": {
				ID:        "greet",
				Type:      "greet",
				Input:     store.InputSelector{Type: store.SelectorFull},
				OutputKey: "greetResult",
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Target: "shout"},
				},
			},
			"shout": {
				ID:        "shout",
				Type:      "shout",
				Input:     store.InputSelector{Type: store.SelectorPath, Path: "greetResult.greeting"},
				OutputKey: "result",
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			},
		},
	}
	mustRegisterFlow(t, rig, flow)

	ctx := context.Background()
	created, err := rig.engine.Create(ctx, "hello", map[string]any{"name": "FlowMonkey"}, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := rig.engine.Run(ctx, created.Execution.ID, engine.RunOptions{SimulateTime: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Done || res.Status != store.StatusCompleted {
		t.Fatalf("expected completed, got done=%v status=%s", res.Done, res.Status)
	}

	exec, err := rig.engine.Get(ctx, created.Execution.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exec.Context["name"] != "FlowMonkey" {
		t.Errorf("name = %v, want FlowMonkey", exec.Context["name"])
	}
	greetResult, _ := exec.Context["greetResult"].(map[string]any)
	if greetResult["greeting"] != "Hello, FlowMonkey!" {
		t.Errorf("greetResult.greeting = %v", greetResult["greeting"])
	}
	if exec.Context["result"] != "HELLO, FLOWMONKEY!" {
		t.Errorf("result = %v", exec.Context["result"])
	}

	if len(exec.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(exec.History))
	}
	if exec.History[0].StepID != "greet" || exec.History[0].Outcome != "success" {
		t.Errorf("history[0] = %+v", exec.History[0])
	}
	if exec.History[1].StepID != "shout" || exec.History[1].Outcome != "success" {
		t.Errorf("history[1] = %+v", exec.History[1])
	}
}

// S2 Failure with fallback, both the recoverable and terminal variants.
func TestS2FailureWithFallback(t *testing.T) {
	validate := func(_ context.Context, p engine.HandlerParams) engine.StepResult {
		in := p.Input.(map[string]any)
		email, _ := in["email"].(string)
		if email == "" {
			return engine.Failure("VALIDATION_ERROR", "email is required")
		}
		return engine.Success(map[string]any{"email": email})
	}
	logError := func(_ context.Context, _ engine.HandlerParams) engine.StepResult {
		return engine.Success(map[string]any{"logged": true})
	}

	buildFlow := func(onFailure *store.Transition) *store.Flow {
		steps := map[string]store.Step{
			"validate": {
				ID:    "validate",
				Type:  "validate",
				Input: store.InputSelector{Type: store.SelectorFull},
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			},
		}
		if onFailure != nil {
			steps["log-error"] = store.Step{
				ID:        "log-error",
				Type:      "log-error",
				Input:     store.InputSelector{Type: store.SelectorFull},
				OutputKey: "errorLog",
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			}
			s := steps["validate"]
			s.Transitions[store.OnFailure] = *onFailure
			steps["validate"] = s
		}
		return &store.Flow{
			ID:            "validate-email",
			Version:       "1",
			InitialStepID: "validate",
			Steps:         steps,
		}
	}

	t.Run("with fallback", func(t *testing.T) {
		rig := newTestRig(t)
		mustRegisterHandler(t, rig.handlers, "validate", validate)
		mustRegisterHandler(t, rig.handlers, "log-error", logError)
		mustRegisterFlow(t, rig, buildFlow(&store.Transition{Target: "log-error"}))

		ctx := context.Background()
		created, err := rig.engine.Create(ctx, "validate-email", map[string]any{}, engine.CreateOptions{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		res, err := rig.engine.Run(ctx, created.Execution.ID, engine.RunOptions{SimulateTime: true})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Status != store.StatusCompleted {
			t.Fatalf("status = %s, want completed", res.Status)
		}
		exec, _ := rig.engine.Get(ctx, created.Execution.ID)
		errorLog, _ := exec.Context["errorLog"].(map[string]any)
		if errorLog["logged"] != true {
			t.Errorf("errorLog.logged = %v, want true", errorLog["logged"])
		}
	})

	t.Run("without fallback", func(t *testing.T) {
		rig := newTestRig(t)
		mustRegisterHandler(t, rig.handlers, "validate", validate)
		mustRegisterFlow(t, rig, buildFlow(nil))

		ctx := context.Background()
		created, err := rig.engine.Create(ctx, "validate-email", map[string]any{}, engine.CreateOptions{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		res, err := rig.engine.Run(ctx, created.Execution.ID, engine.RunOptions{SimulateTime: true})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Status != store.StatusFailed {
			t.Fatalf("status = %s, want failed", res.Status)
		}
		if res.Error == nil || res.Error.Code != "VALIDATION_ERROR" {
			t.Fatalf("error = %+v, want VALIDATION_ERROR", res.Error)
		}
	})
}

// S3 Wait, then cancellation.
func TestS3WaitAndCancel(t *testing.T) {
	rig := newTestRig(t)
	wakeAt := rig.now.Add(1 * time.Hour)

	mustRegisterHandler(t, rig.handlers, "wait-approval", func(_ context.Context, _ engine.HandlerParams) engine.StepResult {
		return engine.Wait(wakeAt, "Awaiting approval", nil, nil)
	})

	flow := &store.Flow{
		ID:            "approval",
		Version:       "1",
		InitialStepID: "wait-approval",
		Steps: map[string]store.Step{
			"wait-approval": {
				ID:    "wait-approval",
				Type:  "wait-approval",
				Input: store.InputSelector{Type: store.SelectorFull},
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			},
		},
	}
	mustRegisterFlow(t, rig, flow)

	ctx := context.Background()
	created, err := rig.engine.Create(ctx, "approval", map[string]any{}, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := rig.engine.Tick(ctx, created.Execution.ID); err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if _, err := rig.engine.Tick(ctx, created.Execution.ID); err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	exec, err := rig.engine.Get(ctx, created.Execution.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exec.Status != store.StatusWaiting {
		t.Fatalf("status = %s, want waiting", exec.Status)
	}
	if exec.WaitReason != "Awaiting approval" {
		t.Errorf("waitReason = %q", exec.WaitReason)
	}

	cancelRes, err := rig.engine.Cancel(ctx, created.Execution.ID, "user", "rejected")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelRes.Cancelled {
		t.Fatalf("expected Cancelled=true")
	}
	if cancelRes.TokensInvalidated < 0 {
		t.Errorf("tokensInvalidated = %d, want >= 0", cancelRes.TokensInvalidated)
	}

	exec, err = rig.engine.Get(ctx, created.Execution.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if exec.Status != store.StatusCancelling {
		t.Fatalf("status = %s, want cancelling", exec.Status)
	}
	if exec.Cancellation == nil || exec.Cancellation.Source != "user" {
		t.Fatalf("cancellation = %+v", exec.Cancellation)
	}

	tickRes, err := rig.engine.Tick(ctx, created.Execution.ID)
	if err != nil {
		t.Fatalf("finalizing tick: %v", err)
	}
	if !tickRes.Done || tickRes.Status != store.StatusCancelled {
		t.Fatalf("finalizing tick = %+v, want done=true status=cancelled", tickRes)
	}

	tickRes, err = rig.engine.Tick(ctx, created.Execution.ID)
	if err != nil {
		t.Fatalf("post-cancel tick: %v", err)
	}
	if !tickRes.Done || tickRes.Status != store.StatusCancelled {
		t.Fatalf("post-cancel tick = %+v, want done=true status=cancelled", tickRes)
	}
}

// S4 Idempotent create.
func TestS4IdempotentCreate(t *testing.T) {
	rig := newTestRig(t)
	mustRegisterHandler(t, rig.handlers, "charge", func(_ context.Context, p engine.HandlerParams) engine.StepResult {
		return engine.Success(p.Input)
	})
	mustRegisterFlow(t, rig, &store.Flow{
		ID:            "pay",
		Version:       "1",
		InitialStepID: "charge",
		Steps: map[string]store.Step{
			"charge": {
				ID:    "charge",
				Type:  "charge",
				Input: store.InputSelector{Type: store.SelectorFull},
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			},
		},
	})

	ctx := context.Background()
	window := int64(60000)
	first, err := rig.engine.Create(ctx, "pay", map[string]any{"amount": 99.99}, engine.CreateOptions{
		IdempotencyKey: "k1", IdempotencyWindowMs: &window,
	})
	if err != nil {
		t.Fatalf("Create 1: %v", err)
	}
	if !first.Created || first.IdempotencyHit {
		t.Fatalf("first create = %+v", first)
	}

	second, err := rig.engine.Create(ctx, "pay", map[string]any{"amount": 99.99}, engine.CreateOptions{
		IdempotencyKey: "k1", IdempotencyWindowMs: &window,
	})
	if err != nil {
		t.Fatalf("Create 2: %v", err)
	}
	if second.Created || !second.IdempotencyHit {
		t.Fatalf("second create = %+v, want created=false idempotencyHit=true", second)
	}
	if second.Execution.ID != first.Execution.ID {
		t.Fatalf("execution ids differ: %s vs %s", first.Execution.ID, second.Execution.ID)
	}

	third, err := rig.engine.Create(ctx, "pay", map[string]any{"amount": 99.99}, engine.CreateOptions{
		IdempotencyKey: "k2", IdempotencyWindowMs: &window,
	})
	if err != nil {
		t.Fatalf("Create 3: %v", err)
	}
	if third.Execution.ID == first.Execution.ID {
		t.Fatalf("expected a distinct execution id for a distinct idempotency key")
	}
}

// S5 Pipe to table.
func TestS5PipeToTable(t *testing.T) {
	rig := newTestRig(t)
	mustRegisterHandler(t, rig.handlers, "place-order", func(_ context.Context, p engine.HandlerParams) engine.StepResult {
		in := p.Input.(map[string]any)
		qty := in["qty"].(float64)
		price := in["price"].(float64)
		return engine.Success(map[string]any{
			"orderId":      in["orderId"],
			"total":        qty * price,
			"status":       "processed",
			"processedAt":  "2026-01-01T00:00:00Z",
		})
	})

	ctx := context.Background()
	table := &store.TableDefinition{
		ID: "orders-table",
		Columns: []store.Column{
			{ID: "order_id", Name: "order_id", Type: "string"},
			{ID: "total", Name: "total", Type: "number"},
			{ID: "status", Name: "status", Type: "string"},
			{ID: "processed_at", Name: "processed_at", Type: "string"},
		},
	}
	if err := rig.tableReg.Register(ctx, table); err != nil {
		t.Fatalf("register table: %v", err)
	}

	flow := &store.Flow{
		ID:            "order-pipeline",
		Version:       "1",
		InitialStepID: "place-order",
		Steps: map[string]store.Step{
			"place-order": {
				ID:        "place-order",
				Type:      "place-order",
				Input:     store.InputSelector{Type: store.SelectorFull},
				OutputKey: "order",
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			},
		},
		Pipes: []store.Pipe{
			{
				ID:      "order-pipe",
				StepID:  "place-order",
				On:      store.PipeOnSuccess,
				TableID: "orders-table",
				Mappings: []store.PipeMapping{
					{SourcePath: "orderId", ColumnID: "order_id"},
					{SourcePath: "total", ColumnID: "total"},
					{SourcePath: "status", ColumnID: "status"},
					{SourcePath: "processedAt", ColumnID: "processed_at"},
				},
			},
		},
	}
	mustRegisterFlow(t, rig, flow)

	orders := []map[string]any{
		{"orderId": "o1", "qty": 2.0, "price": 10.0},
		{"orderId": "o2", "qty": 3.0, "price": 5.0},
		{"orderId": "o3", "qty": 1.0, "price": 99.0},
	}
	for _, o := range orders {
		created, err := rig.engine.Create(ctx, "order-pipeline", o, engine.CreateOptions{})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		res, err := rig.engine.Run(ctx, created.Execution.ID, engine.RunOptions{SimulateTime: true})
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Status != store.StatusCompleted {
			t.Fatalf("order %v: status = %s", o["orderId"], res.Status)
		}
	}

	rows, err := rig.tables.Query(ctx, "orders-table", nil, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	wantTotals := map[string]float64{"o1": 20, "o2": 15, "o3": 99}
	for _, row := range rows {
		orderID, _ := row["order_id"].(string)
		want, ok := wantTotals[orderID]
		if !ok {
			t.Errorf("unexpected order id %q in rows", orderID)
			continue
		}
		got, _ := row["total"].(float64)
		if got != want {
			t.Errorf("order %s: total = %v, want %v", orderID, got, want)
		}
	}

	pending, err := rig.wal.ReadPending(ctx, 100)
	if err != nil {
		t.Fatalf("ReadPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("unacked WAL entries = %d, want 0", len(pending))
	}
}

// S6 Deterministic job identity and lease safety.
func TestS6DeterministicJobIdentityAndLeaseSafety(t *testing.T) {
	jobStore := memstore.NewJobStore()
	ctx := context.Background()

	input := map[string]any{"n": float64(1)}
	jobID, err := jobs.ComputeID("e1", "s1", "h", input)
	if err != nil {
		t.Fatalf("ComputeID: %v", err)
	}

	job1, created1, err := jobStore.GetOrCreate(ctx, &store.Job{
		ID: jobID, ExecutionID: "e1", StepID: "s1", Handler: "h", Status: store.JobPending,
		Input: input, HeartbeatMs: 30_000, MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("GetOrCreate 1: %v", err)
	}
	if !created1 {
		t.Fatalf("expected the first getOrCreate to create a record")
	}

	job2, created2, err := jobStore.GetOrCreate(ctx, &store.Job{
		ID: jobID, ExecutionID: "e1", StepID: "s1", Handler: "h", Status: store.JobPending,
		Input: input, HeartbeatMs: 30_000, MaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("GetOrCreate 2: %v", err)
	}
	if created2 {
		t.Fatalf("expected the second getOrCreate to find the existing record")
	}
	if job1.ID != job2.ID {
		t.Fatalf("job ids differ: %s vs %s", job1.ID, job2.ID)
	}

	claimed, ok, err := jobStore.Claim(ctx, job1.ID, "runnerA", "")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim to succeed")
	}

	okB, err := jobStore.Complete(ctx, claimed.ID, "runnerB", map[string]any{})
	if err != nil {
		t.Fatalf("Complete (wrong runner): %v", err)
	}
	if okB {
		t.Fatalf("expected Complete by the wrong runner to return false")
	}

	okA, err := jobStore.Complete(ctx, claimed.ID, "runnerA", map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("Complete (right runner): %v", err)
	}
	if !okA {
		t.Fatalf("expected Complete by the claiming runner to return true")
	}
}

// Testable property 7: cascade cancellation of a child execution.
func TestCascadeCancellation(t *testing.T) {
	rig := newTestRig(t)
	mustRegisterHandler(t, rig.handlers, "noop", func(_ context.Context, _ engine.HandlerParams) engine.StepResult {
		return engine.Wait(rig.now.Add(time.Hour), "parked", nil, nil)
	})
	mustRegisterFlow(t, rig, &store.Flow{
		ID:            "parent-child",
		Version:       "1",
		InitialStepID: "noop",
		Steps: map[string]store.Step{
			"noop": {
				ID:    "noop",
				Type:  "noop",
				Input: store.InputSelector{Type: store.SelectorFull},
				Transitions: map[store.TransitionKind]store.Transition{
					store.OnSuccess: {Terminal: true},
				},
			},
		},
	})

	ctx := context.Background()
	parent, err := rig.engine.Create(ctx, "parent-child", map[string]any{}, engine.CreateOptions{})
	if err != nil {
		t.Fatalf("Create parent: %v", err)
	}
	child, err := rig.engine.Create(ctx, "parent-child", map[string]any{}, engine.CreateOptions{
		ParentExecutionID: parent.Execution.ID,
	})
	if err != nil {
		t.Fatalf("Create child: %v", err)
	}

	if _, err := rig.engine.Tick(ctx, parent.Execution.ID); err != nil {
		t.Fatalf("tick parent: %v", err)
	}
	if _, err := rig.engine.Tick(ctx, child.Execution.ID); err != nil {
		t.Fatalf("tick child: %v", err)
	}

	if _, err := rig.engine.Cancel(ctx, parent.Execution.ID, "user", "stopping"); err != nil {
		t.Fatalf("Cancel parent: %v", err)
	}

	childExec, err := rig.engine.Get(ctx, child.Execution.ID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if childExec.Status != store.StatusCancelling {
		t.Fatalf("child status = %s, want cancelling", childExec.Status)
	}
	if childExec.Cancellation == nil || childExec.Cancellation.Source != "parent" {
		t.Fatalf("child cancellation = %+v, want source=parent", childExec.Cancellation)
	}

	if _, err := rig.engine.Tick(ctx, child.Execution.ID); err != nil {
		t.Fatalf("finalizing tick child: %v", err)
	}
	childExec, err = rig.engine.Get(ctx, child.Execution.ID)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if childExec.Status != store.StatusCancelled {
		t.Fatalf("child status = %s, want cancelled", childExec.Status)
	}
}
