package cli

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vnforms.dev/api"
	httptoolkit "vnforms.dev/http"
	"vnforms.dev/overlay"
	"vnforms.dev/session"
	"vnforms.dev/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the form-filling session API",
	Long: `serve exposes the session engine (C8) and overlay renderer (C9)
over HTTP: create a session for a form, post answer turns, confirm
uncertain answers, and stream the filled PDF back once the session reaches
review.`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger("vnforms-api")

	store, err := newObjectStore(ctx)
	if err != nil {
		return err
	}

	forms, err := newFormRepository(ctx)
	if err != nil {
		return err
	}
	defer forms.Close()

	sessions, err := newSessionRepository()
	if err != nil {
		return err
	}
	defer sessions.Close()

	capability := newCapability(log)
	engine := session.NewEngine(capability, session.NewQuestionCache(0), log)
	renderer := overlay.New(overlay.Config{FontPath: viper.GetString("overlay.font_path")}, log)

	server := api.New(engine, forms, sessions, store, renderer, log)

	serverCfg := httptoolkit.DefaultServerConfig()
	serverCfg.Port = viper.GetInt("server.port")
	if origins := viper.GetStringSlice("server.allowed_origins"); len(origins) > 0 {
		serverCfg.AllowedOrigins = origins
	}

	e := httptoolkit.NewEchoServer(serverCfg)
	e.GET("/healthz", httptoolkit.HealthCheckHandler("vnforms-api", version.GetModuleVersion()))

	group := e.Group("/v1")
	server.RegisterRoutes(group)

	go func() {
		if err := httptoolkit.StartServer(e, serverCfg); err != nil {
			log.WithError(err).Warn("http server stopped")
		}
	}()

	<-ctx.Done()
	return httptoolkit.GracefulShutdown(e, 10*time.Second)
}
