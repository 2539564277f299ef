package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"nvr-edge/archive"
	"nvr-edge/config"
	"nvr-edge/constant"
	"nvr-edge/engine"
	"nvr-edge/entities"
	"nvr-edge/handler"
	"nvr-edge/health"
	"nvr-edge/metrics"
	"nvr-edge/pkg/rabbitmq"
	"nvr-edge/registry"
	"nvr-edge/repository"
	"nvr-edge/retention"
	"nvr-edge/service"
	"nvr-edge/storage"
)

func Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("root", cfg.Storage.Root).Msg("starting recorder")
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return fmt.Errorf("storage root inaccessible: %w", err)
	}

	reg, err := registry.New(cfg.Storage.FeedFile)
	if err != nil {
		return fmt.Errorf("load feed list: %w", err)
	}

	adapter := engine.NewAdapter(cfg.Storage.Root, cfg.Session, engine.NewFFmpeg(), engine.NewFFprobeVerifier())
	retentionMgr := retention.NewManager(cfg.Retention, cfg.Storage.Root, storage.StatfsUsage{})
	monitor := health.NewMonitor(cfg.Health, func(cameraId string) {
		if err := adapter.StopSession(ctx, cameraId); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("camera", cameraId).Msg("offline stop timed out")
		}
	})

	var index repository.RecordingIndex
	if cfg.DB != nil {
		index, err = repository.NewIndex(cfg.DB)
		if err != nil {
			return fmt.Errorf("recording index: %w", err)
		}
	}

	wireSubscribers(ctx, cfg, adapter, retentionMgr, monitor, index)

	// Pending deletions are repaired before any session starts writing, so
	// retention never races a live writer.
	if err := retentionMgr.StartupCleanup(ctx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("startup cleanup failed")
	}

	orchestrator := service.NewOrchestrator(reg, adapter, monitor, retentionMgr, index, cfg.Storage.Root)
	orchestrator.Start(ctx)
	go retentionMgr.Run(ctx)

	r := gin.Default()
	addHealth(r)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/recordings", cfg.Storage.Root)
	handler.New(orchestrator).Register(r)

	srv := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("addr", srv.Addr).Msg("start http server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Session.GracePeriod+5*time.Second)
	defer shutdownCancel()
	adapter.StopAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("http shutdown failed")
	}

	zerolog.Ctx(ctx).Info().Msg("recorder stopped")
	return nil
}

// wireSubscribers fans adapter and retention events out to the monitor,
// metrics, and the optional index, archive, and event queue.
func wireSubscribers(
	ctx context.Context,
	cfg *config.Config,
	adapter *engine.Adapter,
	retentionMgr *retention.Manager,
	monitor *health.Monitor,
	index repository.RecordingIndex,
) {
	adapter.OnSegmentClosed(func(seg entities.Segment) {
		metrics.SegmentsClosed.WithLabelValues(seg.CameraId, string(seg.State)).Inc()
		monitor.RecordSuccess(ctx, seg)
		retentionMgr.OnSegmentClosed(seg)
	})
	adapter.OnIngestFailure(func(cameraId string, err error, nextRetry time.Time) {
		metrics.IngestFailures.WithLabelValues(cameraId).Inc()
		monitor.RecordFailure(ctx, cameraId, err, nextRetry)
	})
	monitor.OnTransition(func(cameraId string, from, to constant.HealthState) {
		metrics.CameraHealth.WithLabelValues(cameraId).Set(healthGaugeValue(to))
	})
	retentionMgr.OnSegmentDeleted(func(seg entities.Segment) {
		metrics.SegmentsDeleted.Inc()
		metrics.BytesReclaimed.Add(float64(seg.Size))
	})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.ActiveSessions.Set(float64(adapter.ActiveCount()))
				if retentionMgr.StorageExhausted() {
					metrics.StorageExhausted.Set(1)
				} else {
					metrics.StorageExhausted.Set(0)
				}
			}
		}
	}()

	if index != nil {
		adapter.OnSegmentClosed(func(seg entities.Segment) {
			if err := index.RecordSegment(ctx, seg); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to index segment")
			}
		})
		retentionMgr.OnSegmentDeleted(func(seg entities.Segment) {
			if err := index.DeleteSegment(ctx, seg.Path); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to unindex segment")
			}
		})
		monitor.OnTransition(func(cameraId string, from, to constant.HealthState) {
			if err := index.RecordEvent(ctx, cameraId, "health_transition", fmt.Sprintf("%s -> %s", from, to)); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to record camera event")
			}
		})
	}

	if cfg.Archive != nil {
		uploader := archive.NewUploader(cfg.Archive, cfg.Bucket, cfg.Storage.Root)
		adapter.OnSegmentClosed(uploader.OnSegmentClosed(ctx))
	}

	if cfg.Queue != nil {
		conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("event queue unavailable, publishing disabled")
			return
		}
		publisher, err := rabbitmq.NewPublisher(ctx, conn, cfg.Queue)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("event publisher setup failed")
			return
		}
		adapter.OnSegmentClosed(publisher.SegmentClosed(ctx))
		monitor.OnTransition(publisher.HealthTransition(ctx))
	}
}

func healthGaugeValue(state constant.HealthState) float64 {
	switch state {
	case constant.HealthStateDegraded:
		return 1
	case constant.HealthStateOffline:
		return 2
	default:
		return 0
	}
}

func addHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
