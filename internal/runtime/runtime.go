package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/voxlabs/vox-core/internal/asr"
	"github.com/voxlabs/vox-core/internal/audio"
	"github.com/voxlabs/vox-core/internal/bus"
	"github.com/voxlabs/vox-core/internal/config"
	"github.com/voxlabs/vox-core/internal/gateway"
	"github.com/voxlabs/vox-core/internal/natsserver"
	"github.com/voxlabs/vox-core/internal/report"
	"github.com/voxlabs/vox-core/internal/sink"
	"github.com/voxlabs/vox-core/internal/voiceprint"
)

// Runtime assembles and supervises the daemon: embedded bus, report
// store, recognition backends, and the gateway that ties them together.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	bus         *bus.Client
	gw          *gateway.Service
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.bus = busClient

	store, err := report.Open(ctx, r.cfg.Report, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open report store: %w", err)
	}
	defer store.Close()

	recognizer, err := buildRecognizer(r.cfg.ASR, r.logger)
	if err != nil {
		return fmt.Errorf("failed to construct recognizer: %w", err)
	}
	identifier, err := buildIdentifier(r.cfg.Voiceprint, r.logger)
	if err != nil {
		return fmt.Errorf("failed to construct speaker identifier: %w", err)
	}

	busSink := sink.New(busClient, store, r.logger)
	orch := asr.NewOrchestrator(asr.OrchestratorOptions{
		Recognizer: recognizer,
		Identifier: identifier,
		Sink:       busSink,
		Decoder:    audio.NewFrameDecoder(r.cfg.ASR.SampleRate, r.cfg.ASR.Channels, r.logger),
		Pool:       asr.NewPool(r.cfg.ASR.WorkerPoolSize, r.logger),
		Timeout:    time.Duration(r.cfg.ASR.TimeoutSeconds) * time.Second,
		SampleRate: r.cfg.ASR.SampleRate,
		Channels:   r.cfg.ASR.Channels,
		Logger:     r.logger,
		Meter:      otel.GetMeterProvider().Meter("vox-core"),
	})

	// Streaming is an optional backend capability.
	streamer, _ := recognizer.(asr.Streamer)

	r.gw = gateway.NewService(ctx, r.cfg, busClient, orch, busSink, streamer, store, r.logger)
	if err := r.gw.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer r.gw.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildRecognizer constructs the configured recognition backend. An
// unusable configuration fails here, at startup, not on the first
// utterance.
func buildRecognizer(cfg config.ASRConfig, logger *slog.Logger) (asr.Recognizer, error) {
	switch cfg.Mode {
	case "mock":
		return asr.NewMockRecognizer(), nil
	case "exec":
		return asr.NewExecRecognizer(cfg)
	case "ws":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("ws recognizer requires an endpoint")
		}
		return asr.NewWSRecognizer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown asr mode %q", cfg.Mode)
	}
}

func buildIdentifier(cfg config.VoiceprintConfig, logger *slog.Logger) (asr.SpeakerIdentifier, error) {
	switch cfg.Mode {
	case "off":
		return nil, nil
	case "mock":
		return &voiceprint.MockIdentifier{Label: "speaker"}, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("http voiceprint requires an endpoint")
		}
		return voiceprint.NewHTTPIdentifier(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown voiceprint mode %q", cfg.Mode)
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.bus != nil && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	if r.gw != nil && !r.gw.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("gateway down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
