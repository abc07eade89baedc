package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httptoolkit "vnforms.dev/http"
	"vnforms.dev/ingest"
	"vnforms.dev/queue"
	redisqueue "vnforms.dev/queue/redis"
	"vnforms.dev/statemanager"
	"vnforms.dev/version"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "consume storage events and build form schemas",
	Long: `worker runs the form-understanding pipeline (C6): it consumes
"new document stored" events from the configured event bus, classifies and
converts the document, rasterizes its first page, runs field-position
detection and extraction, and upserts the resulting schema.`,
	RunE: runWorker,
}

func init() {
	RootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger("vnforms-worker")

	store, err := newObjectStore(ctx)
	if err != nil {
		return err
	}

	forms, err := newFormRepository(ctx)
	if err != nil {
		return err
	}
	defer forms.Close()

	det := newDetector(log)
	capability := newCapability(log)
	ops := statemanager.New(statemanager.Config{ServiceName: "vnforms-worker"})

	processor := ingest.New(ingest.Config{Bucket: viper.GetString("storage.bucket")}, store, det, capability, forms, ops, log)

	handler := func(event queue.StorageEvent) error {
		return processor.ProcessEvent(ctx, event)
	}

	adminPort := viper.GetInt("worker.admin_port")
	if adminPort > 0 {
		admin := echo.New()
		admin.HideBanner = true
		admin.GET("/healthz", httptoolkit.HealthCheckHandler("vnforms-worker", version.GetModuleVersion()))
		ops.RegisterRoutes(admin.Group(""))
		go func() {
			if err := admin.Start(fmt.Sprintf(":%d", adminPort)); err != nil {
				log.WithError(err).Warn("worker admin server stopped")
			}
		}()
	}

	switch strings.ToLower(viper.GetString("queue.backend")) {
	case "rabbitmq":
		bus, err := queue.NewRabbitMQEventBus(queue.RabbitConfig{
			URL:       viper.GetString("queue.rabbitmq_url"),
			QueueName: viper.GetString("queue.queue_name"),
		})
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer bus.Close()
		log.Info("worker consuming from rabbitmq")
		return ignoreCancel(bus.Consume(ctx, "vnforms-worker", handler))
	default:
		q, err := redisqueue.NewQueue(ctx, redisqueue.Config{
			RedisURL:  viper.GetString("queue.redis_url"),
			KeyPrefix: viper.GetString("queue.key_prefix"),
		})
		if err != nil {
			return fmt.Errorf("connect redis queue: %w", err)
		}
		bus := queue.NewRedisEventBus(q)
		defer bus.Close()
		log.Info("worker consuming from redis")
		return ignoreCancel(bus.Consume(ctx, 5*time.Second, handler))
	}
}

// ignoreCancel treats a consume loop stopped by context cancellation as a
// clean shutdown rather than a command failure.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()
	return ctx, cancel
}
