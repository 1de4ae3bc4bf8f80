package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"matchquiz/config"
	"matchquiz/handlers"
	"matchquiz/models"
	"matchquiz/routes"
	"matchquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newCmd(cfg *config.Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MATCHQUIZ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "matchquiz",
		Short:         "Play a paired compatibility quiz against a relay server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cfg.Validate()
		},
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVar(&cfg.RelayURL, "relay-url", "ws://localhost:8080/ws", "websocket endpoint of the relay (env: MATCHQUIZ_RELAY_URL)")
	fs.StringVarP(&cfg.Bind, "bind", "b", "127.0.0.1", "address for the local bridge (env: MATCHQUIZ_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8090, "port for the local bridge (env: MATCHQUIZ_PORT)")
	fs.StringVar(&cfg.RedisHost, "redis-host", "localhost", "redis host holding session descriptors (env: MATCHQUIZ_REDIS_HOST)")
	fs.StringVar(&cfg.RedisPort, "redis-port", "6379", "redis port (env: MATCHQUIZ_REDIS_PORT)")
	fs.StringVar(&cfg.RedisPassword, "redis-password", "", "redis password (env: MATCHQUIZ_REDIS_PASSWORD)")
	fs.IntVar(&cfg.RedisDB, "redis-db", 0, "redis database (env: MATCHQUIZ_REDIS_DB)")
	fs.StringVar(&cfg.Profile, "profile", "default", "name the session descriptor is stored under (env: MATCHQUIZ_PROFILE)")
	fs.StringVar(&cfg.ShareBaseURL, "share-base-url", "http://localhost:3000", "base of the partner invite link (env: MATCHQUIZ_SHARE_BASE_URL)")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", time.Hour, "lifetime of a stored session descriptor (env: MATCHQUIZ_SESSION_TTL)")
	fs.IntVar(&cfg.QuestionBudget, "question-budget", models.DefaultQuestionBudget, "seconds allowed per question (env: MATCHQUIZ_QUESTION_BUDGET)")
	fs.IntVar(&cfg.TotalQuestions, "total-questions", models.DefaultTotalQuestions, "questions expected before the relay says otherwise (env: MATCHQUIZ_TOTAL_QUESTIONS)")
	fs.DurationVar(&cfg.MinReconnect, "min-reconnect", 500*time.Millisecond, "first reconnect delay (env: MATCHQUIZ_MIN_RECONNECT)")
	fs.DurationVar(&cfg.MaxReconnect, "max-reconnect", 30*time.Second, "reconnect delay ceiling (env: MATCHQUIZ_MAX_RECONNECT)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: MATCHQUIZ_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(newJoinCmd(cfg), newPlayCmd(cfg), newForgetCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("matchquiz v{{.Version}}\n")

	return cmd
}

func newJoinCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join ROOM ROLE",
		Short: "Store a session descriptor and print the partner invite",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, ok := models.ParseRole(args[1])
			if !ok {
				return fmt.Errorf("%w: %q", models.ErrInvalidRole, args[1])
			}

			now := time.Now()
			d := models.NewSessionDescriptor(args[0], role, cfg.SessionTTL, now)
			if err := d.Validate(now); err != nil {
				return err
			}

			store := services.NewRedisDescriptorStore(config.InitRedis(cfg))
			ctx, cancel := context.WithTimeout(cmd.Context(), config.RedisRequest)
			defer cancel()
			if err := store.Save(ctx, cfg.Profile, d); err != nil {
				return err
			}

			invite := cfg.ShareURL(d.RoomCode)
			qr, err := qrcode.New(invite, qrcode.Medium)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Room %s joined as %s until %s\n", d.RoomCode, d.Role, d.Expiry().Format(time.Kitchen))
			fmt.Fprintf(out, "Invite your partner: %s\n", invite)
			fmt.Fprint(out, qr.ToSmallString(false))
			return nil
		},
	}
}

func newForgetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Clear the stored session descriptor",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := services.NewRedisDescriptorStore(config.InitRedis(cfg))
			ctx, cancel := context.WithTimeout(cmd.Context(), config.RedisRequest)
			defer cancel()
			return store.Clear(ctx, cfg.Profile)
		},
	}
}

func newPlayCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "play",
		Short: "Connect to the relay and serve the local bridge",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return play(cmd.Context(), cfg)
		},
	}
}

func play(ctx context.Context, cfg *config.Config) error {
	if !cfg.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	redisClient := config.InitRedis(cfg)
	defer redisClient.Close()
	store := services.NewRedisDescriptorStore(redisClient)

	controller := services.NewController(services.ControllerOptions{
		Endpoint:       cfg.RelayURL,
		QuestionBudget: cfg.QuestionBudget,
		TotalQuestions: cfg.TotalQuestions,
		Transport: services.TransportOptions{
			MinReconnect: cfg.MinReconnect,
			MaxReconnect: cfg.MaxReconnect,
		},
	})
	defer controller.Reset()

	hub := services.NewHub(controller)
	go hub.Run()
	controller.OnChange(hub.Publish)

	if err := services.StartFromStore(ctx, controller, store, cfg.Profile); err != nil {
		// The bridge still serves so a UI can join a room itself.
		log.Printf("No session resumed for profile %s: %v", cfg.Profile, err)
	}

	sessionHandler := handlers.NewSessionHandler(ctx, controller, store, cfg.Profile, cfg.SessionTTL, cfg.ShareURL)

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Verbose {
		router.Use(gin.Logger())
	}
	routes.SetupRoutes(router, sessionHandler, hub)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: config.ReadHeader,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("Bridge listening on http://%s/", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errs:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Shutdown)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
