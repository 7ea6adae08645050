package servercli

import (
	"fmt"
	"os"

	"github.com/jzj1993/socketserver/config"
	"github.com/jzj1993/socketserver/gnet"
	"github.com/jzj1993/socketserver/interface/tcp"
	"github.com/jzj1993/socketserver/lib/logger"
	tcpserver "github.com/jzj1993/socketserver/tcp"
	"github.com/spf13/cobra"
)

var banner = `
   _____            __        __
  / ___/____  _____/ /_____  / /_
  \__ \/ __ \/ ___/ //_/ _ \/ __/
 ___/ / /_/ / /__/ ,< /  __/ /_
/____/\____/\___/_/|_|\___/\__/
`

var (
	configFile string
	portFlag   int
	engineFlag string
)

var rootCmd = &cobra.Command{
	Use:   "socketserver",
	Short: "socketserver is a bidirectional tcp server which answers every message with a fixed reply.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return StartServer()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the demo reply server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return StartServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file, overrides the CONFIG env")
	rootCmd.PersistentFlags().IntVarP(&portFlag, "port", "p", 0, "listening port, overrides the config file")
	rootCmd.PersistentFlags().StringVar(&engineFlag, "engine", "", "goroutine or gnet, overrides the config file")
	AddCommand(serveCmd)
	AddCommand(probeCmd)
}

// AddCommand add command into Cli
func AddCommand(cmdline *cobra.Command) {
	rootCmd.AddCommand(cmdline)
}

func loadConfig() error {
	filename := configFile
	if filename == "" {
		filename = os.Getenv("CONFIG")
	}
	if err := config.Setup(filename); err != nil {
		return err
	}
	if portFlag > 0 {
		config.Properties.Port = portFlag
	}
	if engineFlag != "" {
		config.Properties.Engine = engineFlag
	}
	return nil
}

// NewServer builds the server selected by props.Engine
func NewServer(props *config.ServerProperties, handler tcp.Handler) (tcp.Server, error) {
	cfg := &tcpserver.Config{
		Address:         props.Address(),
		PollInterval:    props.PollInterval,
		ReadBufferSize:  props.ReadBuffer,
		WriteTimeout:    props.WriteTimeout,
		KeepAlive:       props.KeepAlive,
		ShutdownTimeout: props.ShutdownTimeout,
		ReusePort:       props.ReusePort,
	}
	switch props.Engine {
	case config.EngineGoroutine, "":
		return tcpserver.NewServer(cfg, handler), nil
	case config.EngineGnet:
		return gnet.NewGnetServer(cfg, handler, props.Multicore), nil
	}
	return nil, fmt.Errorf("unknown engine %q", props.Engine)
}

// StartServer loads config and serves the demo handler until a stop signal
func StartServer() error {
	if err := loadConfig(); err != nil {
		return err
	}
	props := config.Properties
	print(banner)
	err := logger.Setup(&logger.Settings{
		Path:       props.LogDir,
		Name:       "socketserver",
		Ext:        "log",
		Level:      props.LogLevel,
		MaxSizeMB:  100,
		MaxBackups: 7,
		MaxAgeDays: 30,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	handler, err := NewDemoHandler(props.ReplyHex, props.AllowFrom)
	if err != nil {
		return err
	}
	server, err := NewServer(props, handler)
	if err != nil {
		return err
	}
	logger.Infof("--------Server Started-------- engine=%s", props.Engine)
	return tcpserver.ServeWithSignal(server)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
