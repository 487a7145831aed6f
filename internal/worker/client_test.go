package worker

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/worker/sim"
)

// #region mock
type mockService struct {
	resp     map[string]map[string]any
	err      error
	lastReq  *structpb.Struct
	lastMeth string
	deadline bool
}

func (m *mockService) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	m.lastMeth = method
	m.lastReq = req
	_, m.deadline = ctx.Deadline()
	if m.err != nil {
		return nil, m.err
	}
	return structpb.NewStruct(m.resp[method])
}

// #endregion mock

// #region constructor-tests
func TestNewClientLazyDial(t *testing.T) {
	client, err := NewClient("localhost:0", time.Second)
	if err != nil {
		t.Fatalf("unexpected error creating client: %v", err)
	}
	defer client.Close()
}

func TestNewClientWithService(t *testing.T) {
	c := NewClientWithService(&mockService{})
	if c == nil || c.svc == nil {
		t.Fatal("expected client with injected service")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close without conn: %v", err)
	}
}

// #endregion constructor-tests

// #region call-tests
func TestStepDecodesExhaustion(t *testing.T) {
	mock := &mockService{resp: map[string]map[string]any{
		MethodStep: {"loss": 0.0, "exhausted": true},
	}}
	c := NewClientWithService(mock)

	res, err := c.Step(context.Background(), model.TaskASR, "bucket-0#1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Exhausted {
		t.Fatal("expected exhausted result")
	}
	if mock.lastMeth != MethodStep {
		t.Fatalf("expected %s, got %s", MethodStep, mock.lastMeth)
	}
	if got := mock.lastReq.GetFields()["handle"].GetStringValue(); got != "bucket-0#1" {
		t.Fatalf("handle not sent: %q", got)
	}
}

func TestStateDecodesCounters(t *testing.T) {
	mock := &mockService{resp: map[string]map[string]any{
		MethodState: {"global_step": 30060.0, "learning_rate": 5e-4, "epoch": 10.0, "lm_epoch": 2.0},
	}}
	st, err := NewClientWithService(mock).State(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.GlobalStep != 30060 || st.LearningRate != 5e-4 || st.Epoch != 10 || st.LMEpoch != 2 {
		t.Fatalf("unexpected state %+v", st)
	}
}

func TestOpenStreamRequiresHandle(t *testing.T) {
	mock := &mockService{resp: map[string]map[string]any{MethodOpenStream: {}}}
	_, err := NewClientWithService(mock).OpenStream(context.Background(), model.StreamSpec{Name: "b", Files: []string{"f"}})
	if err == nil {
		t.Fatal("expected error on empty handle")
	}
}

func TestCallWrapsError(t *testing.T) {
	mock := &mockService{err: errors.New("connection refused")}
	_, err := NewClientWithService(mock).Evaluate(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, mock.err) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestCallAppliesTimeout(t *testing.T) {
	mock := &mockService{resp: map[string]map[string]any{}}
	c := NewClientWithService(mock)
	c.timeout = time.Minute

	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mock.deadline {
		t.Fatal("expected deadline on call context")
	}
}

// #endregion call-tests

// #region roundtrip-tests
func dialSim(t *testing.T, backend Backend) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	Register(srv, backend)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", 0, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundTripThroughServer(t *testing.T) {
	cfg := sim.DefaultConfig()
	cfg.BatchesPerFile = 1
	cfg.Scores = []float64{0.42}
	c := dialSim(t, sim.New(cfg))
	ctx := context.Background()

	if err := c.Setup(ctx, model.SetupRequest{DevFiles: []string{"dev.0"}, Seed: 10}); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	h, err := c.OpenStream(ctx, model.StreamSpec{Name: "bucket-0", Files: []string{"a", "b"}})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	for i := 0; i < 2; i++ {
		res, err := c.Step(ctx, model.TaskASR, h)
		if err != nil || res.Exhausted {
			t.Fatalf("step %d: res=%+v err=%v", i, res, err)
		}
	}
	res, err := c.Step(ctx, model.TaskASR, h)
	if err != nil || !res.Exhausted {
		t.Fatalf("expected exhaustion, res=%+v err=%v", res, err)
	}

	lr, err := c.DecayLearningRate(ctx)
	if err != nil || lr != cfg.LearningRate*cfg.DecayFactor {
		t.Fatalf("DecayLearningRate: lr=%v err=%v", lr, err)
	}
	score, err := c.Evaluate(ctx)
	if err != nil || score != 0.42 {
		t.Fatalf("Evaluate: score=%v err=%v", score, err)
	}

	p, err := c.Save(ctx, filepath.Join(t.TempDir(), "asr.ckpt"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(p) != "asr.ckpt-2" {
		t.Fatalf("unexpected checkpoint path %s", p)
	}

	st, err := c.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.GlobalStep != 2 {
		t.Fatalf("expected global step 2, got %d", st.GlobalStep)
	}
}

func TestBackendErrorBecomesStatus(t *testing.T) {
	m := sim.New(sim.DefaultConfig())
	m.FailOn("Evaluate", errors.New("out of memory"))
	c := dialSim(t, m)

	_, err := c.Evaluate(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if status.Code(errors.Unwrap(err)) != codes.Internal {
		t.Fatalf("expected Internal status, got %v", err)
	}
}

// #endregion roundtrip-tests
