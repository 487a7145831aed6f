package worker

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

// #region service
// Service performs one unary worker call.
type Service interface {
	Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

type connService struct {
	conn *grpc.ClientConn
}

func (s connService) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.conn.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service

// #region client-struct
// Client drives the model worker process over gRPC. It implements
// model.Model and model.Evaluator.
type Client struct {
	conn    *grpc.ClientConn
	svc     Service
	timeout time.Duration
}

var (
	_ model.Model     = (*Client)(nil)
	_ model.Evaluator = (*Client)(nil)
)

// #endregion client-struct

// #region constructor
// NewClient connects to the worker. A zero timeout leaves calls unbounded.
func NewClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, svc: connService{conn: conn}, timeout: timeout}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc Service) *Client {
	return &Client{svc: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region call
func (c *Client) call(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.svc.Call(ctx, method, req)
	if err != nil {
		return nil, fmt.Errorf("%s rpc: %w", method, err)
	}
	return resp, nil
}

// #endregion call

// #region lifecycle
// Setup sends the dev and LM file lists so the worker can build its graphs.
func (c *Client) Setup(ctx context.Context, req model.SetupRequest) error {
	_, err := c.call(ctx, MethodSetup, map[string]any{
		"dev_files": anyList(req.DevFiles),
		"lm_files":  anyList(req.LMFiles),
		"seed":      float64(req.Seed),
	})
	return err
}

// Initialize runs the variable initializers.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.call(ctx, MethodInitialize, nil)
	return err
}

// ImportVariables restores the variables shared with a pretrained checkpoint.
func (c *Client) ImportVariables(ctx context.Context, path string) error {
	_, err := c.call(ctx, MethodImportVariables, map[string]any{"path": path})
	return err
}

// Restore loads a full checkpoint.
func (c *Client) Restore(ctx context.Context, path string) error {
	_, err := c.call(ctx, MethodRestore, map[string]any{"path": path})
	return err
}

// State reads back the worker's counters and learning rate.
func (c *Client) State(ctx context.Context) (model.State, error) {
	resp, err := c.call(ctx, MethodState, nil)
	if err != nil {
		return model.State{}, err
	}
	return model.State{
		GlobalStep:   integer(resp, "global_step"),
		LearningRate: num(resp, "learning_rate"),
		Epoch:        integer(resp, "epoch"),
		LMGlobalStep: integer(resp, "lm_global_step"),
		LMEpoch:      integer(resp, "lm_epoch"),
	}, nil
}

// #endregion lifecycle

// #region streams
// OpenStream initializes a bucket iterator and returns its handle.
func (c *Client) OpenStream(ctx context.Context, spec model.StreamSpec) (model.StreamHandle, error) {
	resp, err := c.call(ctx, MethodOpenStream, map[string]any{
		"name":       spec.Name,
		"bucket":     float64(spec.Bucket),
		"batch_size": float64(spec.BatchSize),
		"files":      anyList(spec.Files),
		"shuffle":    spec.Shuffle,
	})
	if err != nil {
		return "", err
	}
	h := str(resp, "handle")
	if h == "" {
		return "", fmt.Errorf("%s rpc: empty handle", MethodOpenStream)
	}
	return model.StreamHandle(h), nil
}

// ResetLMStream reinitializes the LM iterator and returns the LM epoch.
func (c *Client) ResetLMStream(ctx context.Context) (int64, error) {
	resp, err := c.call(ctx, MethodResetLMStream, nil)
	if err != nil {
		return 0, err
	}
	return integer(resp, "lm_epoch"), nil
}

// Step runs one update. End of stream comes back as Exhausted, not an error.
func (c *Client) Step(ctx context.Context, task model.Task, handle model.StreamHandle) (model.StepResult, error) {
	resp, err := c.call(ctx, MethodStep, map[string]any{
		"task":   string(task),
		"handle": string(handle),
	})
	if err != nil {
		return model.StepResult{}, err
	}
	return model.StepResult{
		Loss:      num(resp, "loss"),
		Exhausted: boolean(resp, "exhausted"),
	}, nil
}

// #endregion streams

// #region counters
// DecayLearningRate applies one decay step and returns the new rate.
func (c *Client) DecayLearningRate(ctx context.Context) (float64, error) {
	resp, err := c.call(ctx, MethodDecayLearningRate, nil)
	if err != nil {
		return 0, err
	}
	return num(resp, "learning_rate"), nil
}

// IncrementEpoch bumps the persisted epoch counter.
func (c *Client) IncrementEpoch(ctx context.Context) (int64, error) {
	resp, err := c.call(ctx, MethodIncrementEpoch, nil)
	if err != nil {
		return 0, err
	}
	return integer(resp, "epoch"), nil
}

// #endregion counters

// #region evaluate-save
// Evaluate greedy-decodes the dev set and returns the error rate.
func (c *Client) Evaluate(ctx context.Context) (float64, error) {
	resp, err := c.call(ctx, MethodEvaluate, nil)
	if err != nil {
		return 0, err
	}
	return num(resp, "error_rate"), nil
}

// Save writes a checkpoint under prefix and returns its path.
func (c *Client) Save(ctx context.Context, prefix string) (string, error) {
	resp, err := c.call(ctx, MethodSave, map[string]any{"prefix": prefix})
	if err != nil {
		return "", err
	}
	return str(resp, "path"), nil
}

// #endregion evaluate-save
