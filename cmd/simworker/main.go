package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"google.golang.org/grpc"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/worker"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/worker/sim"
)

// #region main
func main() {
	def := sim.DefaultConfig()
	addr := flag.String("addr", envOr("SIMWORKER_ADDR", "localhost:50061"), "listen address")
	lr := flag.Float64("lr", def.LearningRate, "initial learning rate")
	decay := flag.Float64("decay-factor", def.DecayFactor, "learning rate decay factor")
	batches := flag.Int("batches-per-file", def.BatchesPerFile, "ASR batches per bucket file")
	lmBatches := flag.Int("lm-batches", def.LMBatches, "LM batches per LM epoch")
	loss := flag.Float64("loss", def.Loss, "loss reported by every step")
	scores := flag.String("scores", "", "comma-separated error rates returned by Evaluate; the last repeats")
	flag.Parse()

	cfg := sim.Config{
		LearningRate:   *lr,
		DecayFactor:    *decay,
		BatchesPerFile: *batches,
		LMBatches:      *lmBatches,
		Loss:           *loss,
	}
	var err error
	if cfg.Scores, err = parseScores(*scores); err != nil {
		log.Fatalf("[SIM] %v", err)
	}

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("[SIM] failed to listen on %s: %v", *addr, err)
	}

	srv := grpc.NewServer()
	worker.Register(srv, sim.New(cfg))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("[SIM] shutting down")
		srv.GracefulStop()
	}()

	log.Printf("[SIM] serving %s on %s", worker.ServiceName, lis.Addr())
	if err := srv.Serve(lis); err != nil {
		log.Fatalf("[SIM] serve: %v", err)
	}
}

// #endregion main

// #region helpers
func parseScores(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
