package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/observability/metrics"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/storage"
	"AgentReceipt/internal/verify"
	"AgentReceipt/pkg/logger"
)

// Generator 根据链上交易构造收据。
type Generator interface {
	Generate(ctx context.Context, req receipt.GenerateRequest) (receipt.AgentReceipt, error)
}

// Verifier 是校验引擎对外暴露的能力。
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) verify.Result
	QuickVerify(ctx context.Context, r receipt.AgentReceipt) verify.QuickResult
}

// Options 汇总 API 服务依赖的组件。未配置的组件对应的接口返回 503。
type Options struct {
	Addr           string
	Generator      Generator
	Attestations   *attestation.Service
	Signer         attestation.Signer
	Store          storage.Store
	Anchorer       *ledger.Anchorer
	Verifier       Verifier
	Jobs           *jobs.Service
	RateLimiter    *RateLimiter
	MaxBodyBytes   int64
	OnChainDefault bool
}

// Server 负责暴露 REST 接口。
type Server struct {
	opts Options
	log  *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.Attestations == nil {
		opts.Attestations = attestation.NewService()
	}
	return &Server{opts: opts, log: logger.Named("api")}
}

// Handler 返回挂载了全部路由与中间件的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	s.route(mux, "POST /api/v1/receipts", "generate", s.handleGenerate)
	s.route(mux, "POST /api/v1/receipts/hash", "hash", s.handleHash)
	s.route(mux, "POST /api/v1/receipts/signable", "signable", s.handleSignable)
	s.route(mux, "POST /api/v1/receipts/attestations", "attest", s.handleAttest)
	s.route(mux, "POST /api/v1/receipts/pin", "pin", s.handlePin)
	s.route(mux, "POST /api/v1/receipts/anchor", "anchor", s.handleAnchor)
	s.route(mux, "POST /api/v1/receipts/verify", "verify", s.handleVerify)
	s.route(mux, "POST /api/v1/receipts/quick-verify", "quick_verify", s.handleQuickVerify)
	s.route(mux, "GET /api/v1/documents/{digest}", "document", s.handleDocument)

	s.route(mux, "GET /api/v1/anchors", "anchors_list", s.handleListAnchors)
	s.route(mux, "GET /api/v1/anchors/{receiptId}", "anchor_get", s.handleGetAnchor)

	s.route(mux, "POST /api/v1/jobs", "jobs_submit", s.handleSubmitJob)
	s.route(mux, "GET /api/v1/jobs", "jobs_list", s.handleListJobs)
	s.route(mux, "GET /api/v1/jobs/stats", "jobs_stats", s.handleJobStats)
	s.route(mux, "GET /api/v1/jobs/{id}", "jobs_get", s.handleGetJob)

	return s.opts.RateLimiter.Middleware(mux)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s.opts.RateLimiter != nil {
		go s.opts.RateLimiter.Run(ctx)
	}

	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务已启动", slog.String("addr", s.opts.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, handler http.HandlerFunc) {
	mux.Handle(pattern, instrument(name, handler))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 记录每个路由的请求耗时与状态码。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}
