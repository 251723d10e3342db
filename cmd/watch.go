package cmd

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/etiennebl/hilolink/internal/pkg/devices"
	"github.com/etiennebl/hilolink/internal/pkg/hilo"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
)

var _watchCmdOpts struct {
	refreshInterval   time.Duration
	appreciationHours int
	preColdHours      int
	registerPush      bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to the cloud and stream device updates to the log",

	RunE: func(cmd *cobra.Command, args []string) error {
		if err := doWatch(); err != nil {
			return err
		}

		return nil
	},

	PreRunE: func(cmd *cobra.Command, args []string) error {
		return checkRequiredFlags("hilo.username", "hilo.password")
	},
}

func init() {
	watchCmd.Flags().DurationVar(&_watchCmdOpts.refreshInterval, "refresh-interval", 30*time.Minute, "device snapshot polling interval, eg. 30m or 1h")
	watchCmd.Flags().IntVar(&_watchCmdOpts.appreciationHours, "appreciation-hours", 0, "synthesized appreciation phase length before challenge preheat")
	watchCmd.Flags().IntVar(&_watchCmdOpts.preColdHours, "pre-cold-hours", 0, "synthesized pre-cold phase length before appreciation")
	watchCmd.Flags().BoolVar(&_watchCmdOpts.registerPush, "register-push", false, "register as a push notification target")

	errPanic(viper.GetViper().BindPFlag("hilo.refresh-interval", watchCmd.Flags().Lookup("refresh-interval")))
	errPanic(viper.GetViper().BindPFlag("hilo.appreciation-hours", watchCmd.Flags().Lookup("appreciation-hours")))
	errPanic(viper.GetViper().BindPFlag("hilo.pre-cold-hours", watchCmd.Flags().Lookup("pre-cold-hours")))
	errPanic(viper.GetViper().BindPFlag("hilo.register-push", watchCmd.Flags().Lookup("register-push")))

	rootCmd.AddCommand(watchCmd)
}

func doWatch() error {
	client, err := newClient(
		hilo.WithRefreshInterval(viper.GetDuration("hilo.refresh-interval")),
		hilo.WithAppreciationHours(viper.GetInt("hilo.appreciation-hours")),
		hilo.WithPreColdHours(viper.GetInt("hilo.pre-cold-hours")),
		hilo.WithPushRegistration(viper.GetBool("hilo.register-push")),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt)
		<-c
		logging.Logger(nil).Info("shutting down")
		cancel()
	}()

	if err := client.Initialize(ctx); err != nil {
		return err
	}

	remove := client.AddUpdateCallback(func(dev *devices.Device) {
		for _, r := range dev.Readings() {
			logging.Logger(nil).Infof("%s %s", dev.Tag(), r)
		}
	})
	defer remove()

	for _, dev := range client.Registry().All() {
		logging.Logger(nil).Infof("Found %s", dev)
	}

	if err := client.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
