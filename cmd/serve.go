package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/etiennebl/hilolink/internal/pkg/handlers"
	"github.com/etiennebl/hilolink/internal/pkg/hilo"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/pkg/middlewares"
)

var _serveCmdOpts struct {
	httpPort        uint16
	gracefulTimeout time.Duration
	readTimeout     time.Duration
	writeTimeout    time.Duration
	refreshInterval time.Duration
	corsOrigins     []string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API server exposing the live device model",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doServe(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("hilo.username", "hilo.password")
	},
}

func init() {
	serveCmd.Flags().Uint16Var(&_serveCmdOpts.httpPort, "http-port", 8484, "HTTP port number")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.gracefulTimeout, "graceful-timeout", time.Second*15, "duration to wait for server to finish, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.readTimeout, "read-timeout", time.Second*15, "duration to wait for request read, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.writeTimeout, "write-timeout", time.Second*60, "duration to wait for request write, eg. 1m or 10s")
	serveCmd.Flags().DurationVar(&_serveCmdOpts.refreshInterval, "refresh-interval", 30*time.Minute, "device snapshot polling interval, eg. 30m or 1h")
	serveCmd.Flags().StringSliceVar(&_serveCmdOpts.corsOrigins, "cors-origin", nil, "allowed CORS origins")

	errPanic(viper.GetViper().BindPFlag("http.port", serveCmd.Flags().Lookup("http-port")))
	errPanic(viper.GetViper().BindPFlag("http.graceful-timeout", serveCmd.Flags().Lookup("graceful-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.read-timeout", serveCmd.Flags().Lookup("read-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.write-timeout", serveCmd.Flags().Lookup("write-timeout")))
	errPanic(viper.GetViper().BindPFlag("http.cors-origins", serveCmd.Flags().Lookup("cors-origin")))
	errPanic(viper.GetViper().BindPFlag("hilo.refresh-interval", serveCmd.Flags().Lookup("refresh-interval")))

	rootCmd.AddCommand(serveCmd)
}

func doServe() error {
	wait := viper.GetDuration("http.graceful-timeout")
	port := viper.GetUint("http.port")

	client, err := newClient(
		hilo.WithRefreshInterval(viper.GetDuration("hilo.refresh-interval")),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Initialize(ctx); err != nil {
		return err
	}

	go func() {
		if err := client.Run(ctx); err != nil && err != context.Canceled {
			logging.Logger(nil).WithError(err).Error("running client")
		}
	}()

	dh := handlers.NewDevicesHandler(client)

	r := mux.NewRouter()
	if origins := viper.GetStringSlice("http.cors-origins"); len(origins) > 0 {
		r.Use(middlewares.NewCorsMw(cors.Options{AllowedOrigins: origins}))
	}
	r.Use(middlewares.NewLoggingMw())
	r.Use(middlewares.NewRecoveryMw())
	dh.Register(r)

	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  viper.GetDuration("http.read-timeout"),
		WriteTimeout: viper.GetDuration("http.write-timeout"),
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}

	logging.Logger(nil).Infof("Serving on port %d", port)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger(nil).WithError(err).Error("running server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	// Block until we receive a signal
	<-c
	cancel()

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), wait)
	defer shutdownCancel()
	logging.Logger(nil).Info("shutting down")
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Logger(nil).WithError(err).Errorf("shutting down")
	}
	logging.Logger(nil).Info("exiting")
	return nil
}
