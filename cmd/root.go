package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/etiennebl/hilolink/internal/pkg/auth"
	"github.com/etiennebl/hilolink/internal/pkg/hilo"
	"github.com/etiennebl/hilolink/internal/pkg/hiloapi"
	"github.com/etiennebl/hilolink/internal/pkg/logging"
	"github.com/etiennebl/hilolink/internal/pkg/statestore"
	"github.com/etiennebl/hilolink/internal/pkg/transport"
	"github.com/etiennebl/hilolink/version"
)

var _rootCmdOpts struct {
	cfgFile   string
	debug     bool
	stateFile string
	username  string
	password  string
}

var rootCmd = &cobra.Command{
	Use:          "hilolink",
	Short:        "Keep a live model of a Hilo home's smart devices",
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _rootCmdOpts.debug {
			logrus.SetLevel(logrus.DebugLevel)
		}

		return logging.Configure(viper.GetViper())
	},
}

// Execute runs the selected sub-command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.cfgFile, "config", "", "config file (default is $HOME/.hilolink.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&_rootCmdOpts.debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.stateFile, "state-file", "", "session state file (default is $HOME/.hilolink-state.yaml)")
	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.username, "username", "", "Hilo account user name")
	rootCmd.PersistentFlags().StringVar(&_rootCmdOpts.password, "password", "", "Hilo account password")

	errPanic(viper.GetViper().BindPFlag("hilo.state-file", rootCmd.PersistentFlags().Lookup("state-file")))
	errPanic(viper.GetViper().BindPFlag("hilo.username", rootCmd.PersistentFlags().Lookup("username")))
	errPanic(viper.GetViper().BindPFlag("hilo.password", rootCmd.PersistentFlags().Lookup("password")))
}

func initConfig() {
	if _rootCmdOpts.cfgFile != "" {
		viper.SetConfigFile(_rootCmdOpts.cfgFile)
	} else {
		home, err := homedir.Dir()
		errPanic(err)

		viper.AddConfigPath(home)
		viper.SetConfigName(".hilolink")
	}

	viper.SetEnvPrefix("HILOLINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logging.Logger(nil).Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

func errPanic(err error) {
	if err != nil {
		panic(err)
	}
}

func checkRequiredFlags(needFlags ...string) error {
	missingFlags := []string{}

	for _, f := range needFlags {
		if !viper.IsSet(f) || viper.GetString(f) == "" {
			missingFlags = append(missingFlags, f)
		}
	}

	if len(missingFlags) > 0 {
		itemPlural := "item"
		if len(missingFlags) > 1 {
			itemPlural = "items"
		}
		return fmt.Errorf("required config %s `%s` not set", itemPlural, strings.Join(missingFlags, "`, `"))
	}

	return nil
}

func statePath() (string, error) {
	if path := viper.GetString("hilo.state-file"); path != "" {
		return homedir.Expand(path)
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hilolink-state.yaml"), nil
}

// newClient assembles the full client stack from the active configuration.
func newClient(opts ...hilo.Option) (*hilo.Client, error) {
	path, err := statePath()
	if err != nil {
		return nil, err
	}

	state := statestore.New(path)
	tokens := auth.NewPasswordProvider(state,
		viper.GetString("hilo.username"), viper.GetString("hilo.password"))

	userAgent := "hilolink/" + version.Version
	tc := transport.New(hiloapi.APIHostname, userAgent, hiloapi.SubscriptionKey, tokens)

	return hilo.New(tc, tokens, state, userAgent, opts...), nil
}
