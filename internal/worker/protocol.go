package worker

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service the model worker exposes. Requests and
// responses are google.protobuf.Struct messages.
const ServiceName = "asrtrain.v1.Worker"

// #region methods
const (
	MethodSetup             = "Setup"
	MethodInitialize        = "Initialize"
	MethodImportVariables   = "ImportVariables"
	MethodRestore           = "Restore"
	MethodState             = "State"
	MethodOpenStream        = "OpenStream"
	MethodResetLMStream     = "ResetLMStream"
	MethodStep              = "Step"
	MethodDecayLearningRate = "DecayLearningRate"
	MethodIncrementEpoch    = "IncrementEpoch"
	MethodEvaluate          = "Evaluate"
	MethodSave              = "Save"
)

var methods = []string{
	MethodSetup, MethodInitialize, MethodImportVariables, MethodRestore, MethodState,
	MethodOpenStream, MethodResetLMStream, MethodStep, MethodDecayLearningRate,
	MethodIncrementEpoch, MethodEvaluate, MethodSave,
}

// FullMethod returns the gRPC path for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// #endregion methods

// #region fields
func num(s *structpb.Struct, key string) float64 {
	if s == nil {
		return 0
	}
	return s.GetFields()[key].GetNumberValue()
}

func integer(s *structpb.Struct, key string) int64 {
	return int64(num(s, key))
}

func str(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

func boolean(s *structpb.Struct, key string) bool {
	if s == nil {
		return false
	}
	return s.GetFields()[key].GetBoolValue()
}

func strs(s *structpb.Struct, key string) []string {
	if s == nil {
		return nil
	}
	list := s.GetFields()[key].GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

func anyList(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

// #endregion fields
