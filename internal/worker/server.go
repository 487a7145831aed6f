package worker

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

// Backend is what a worker process serves.
type Backend interface {
	model.Model
	model.Evaluator
}

// Register exposes backend as the worker service on s.
func Register(s grpc.ServiceRegistrar, backend Backend) {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "asrtrain/v1/worker.proto",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: m, Handler: handler(m)})
	}
	s.RegisterService(&desc, &dispatcher{backend: backend})
}

type dispatcher struct {
	backend Backend
}

func handler(method string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		d := srv.(*dispatcher)
		if interceptor == nil {
			return d.dispatch(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return d.dispatch(ctx, method, req.(*structpb.Struct))
		})
	}
}

func (d *dispatcher) dispatch(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := d.invoke(ctx, method, in)
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode %s response: %v", method, err))
	}
	return resp, nil
}

func (d *dispatcher) invoke(ctx context.Context, method string, in *structpb.Struct) (map[string]any, error) {
	b := d.backend
	switch method {
	case MethodSetup:
		return nil, b.Setup(ctx, model.SetupRequest{
			DevFiles: strs(in, "dev_files"),
			LMFiles:  strs(in, "lm_files"),
			Seed:     integer(in, "seed"),
		})
	case MethodInitialize:
		return nil, b.Initialize(ctx)
	case MethodImportVariables:
		return nil, b.ImportVariables(ctx, str(in, "path"))
	case MethodRestore:
		return nil, b.Restore(ctx, str(in, "path"))
	case MethodState:
		st, err := b.State(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"global_step":    float64(st.GlobalStep),
			"learning_rate":  st.LearningRate,
			"epoch":          float64(st.Epoch),
			"lm_global_step": float64(st.LMGlobalStep),
			"lm_epoch":       float64(st.LMEpoch),
		}, nil
	case MethodOpenStream:
		h, err := b.OpenStream(ctx, model.StreamSpec{
			Name:      str(in, "name"),
			Bucket:    int(integer(in, "bucket")),
			BatchSize: int(integer(in, "batch_size")),
			Files:     strs(in, "files"),
			Shuffle:   boolean(in, "shuffle"),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"handle": string(h)}, nil
	case MethodResetLMStream:
		e, err := b.ResetLMStream(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lm_epoch": float64(e)}, nil
	case MethodStep:
		res, err := b.Step(ctx, model.Task(str(in, "task")), model.StreamHandle(str(in, "handle")))
		if err != nil {
			return nil, err
		}
		return map[string]any{"loss": res.Loss, "exhausted": res.Exhausted}, nil
	case MethodDecayLearningRate:
		lr, err := b.DecayLearningRate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"learning_rate": lr}, nil
	case MethodIncrementEpoch:
		e, err := b.IncrementEpoch(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"epoch": float64(e)}, nil
	case MethodEvaluate:
		score, err := b.Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"error_rate": score}, nil
	case MethodSave:
		p, err := b.Save(ctx, str(in, "prefix"))
		if err != nil {
			return nil, err
		}
		return map[string]any{"path": p}, nil
	}
	return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
}
