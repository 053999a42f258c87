package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/syslog"
	"net/http"
	_ "net/http/pprof" // no_lint
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
	"github.com/skycoin/skycoin/src/util/logging"
	"github.com/spf13/cobra"

	"github.com/skycoin/mdp/internal/metrics"
	"github.com/skycoin/mdp/pkg/config"
	"github.com/skycoin/mdp/pkg/node"
	"github.com/skycoin/mdp/pkg/util/pathutil"
)

var log = logging.MustGetLogger("mdp")

const configEnv = "MDP_CONFIG"
const defaultShutdownTimeout = config.Duration(10 * time.Second)

type runCfg struct {
	syslogAddr   string
	tag          string
	cfgFromStdin bool
	profileMode  string
	port         string
	configPath   string

	profileStop func()
	logger      *logging.Logger
	conf        *config.Config
	node        *node.Node
	status      *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	runErr chan error
}

var cfg = &runCfg{}

var rootCmd = &cobra.Command{
	Use:     "mdp",
	Short:   "Reliable multicast file transfer",
	Version: node.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfg.configPath, "config", "c", "", "config path, $"+configEnv+" or a default location if unset")
	rootCmd.PersistentFlags().StringVarP(&cfg.syslogAddr, "syslog", "", "none", "syslog server address. E.g. localhost:514")
	rootCmd.PersistentFlags().StringVarP(&cfg.tag, "tag", "", "mdp", "logging tag")
	rootCmd.PersistentFlags().BoolVarP(&cfg.cfgFromStdin, "stdin", "i", false, "read config from STDIN")
	rootCmd.PersistentFlags().StringVarP(&cfg.profileMode, "profile", "p", "none", "enable profiling with pprof. Mode:  none or one of: [cpu, mem, mutex, block, trace, http]")
	rootCmd.PersistentFlags().StringVarP(&cfg.port, "port", "", "6060", "port for http-mode of pprof")
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func (cfg *runCfg) startProfiler() *runCfg {
	var option func(*profile.Profile)
	switch cfg.profileMode {
	case "none":
		cfg.profileStop = func() {}
		return cfg
	case "http":
		go func() {
			log.Println(http.ListenAndServe(fmt.Sprintf("localhost:%v", cfg.port), nil))
		}()
		cfg.profileStop = func() {}
		return cfg
	case "cpu":
		option = profile.CPUProfile
	case "mem":
		option = profile.MemProfile
	case "mutex":
		option = profile.MutexProfile
	case "block":
		option = profile.BlockProfile
	case "trace":
		option = profile.TraceProfile
	default:
		log.Fatalf("invalid profile mode %q", cfg.profileMode)
	}
	cfg.profileStop = profile.Start(profile.ProfilePath("./logs/"+cfg.tag), option).Stop
	return cfg
}

func (cfg *runCfg) startLogger() *runCfg {
	cfg.logger = logging.MustGetLogger(cfg.tag)

	if cfg.syslogAddr != "none" {
		hook, err := logrus_syslog.NewSyslogHook("udp", cfg.syslogAddr, syslog.LOG_INFO, cfg.tag)
		if err != nil {
			cfg.logger.Error("Unable to connect to syslog daemon:", err)
		} else {
			logging.AddHook(hook)
		}
	}
	return cfg
}

func (cfg *runCfg) readConfig() *runCfg {
	var rdr io.Reader
	if !cfg.cfgFromStdin {
		var args []string
		if cfg.configPath != "" {
			args = []string{cfg.configPath}
		}
		configPath := pathutil.FindConfigPath(args, 0, configEnv, pathutil.Defaults())
		f, err := os.Open(configPath)
		if err != nil {
			cfg.logger.Fatalf("Failed to open config: %s", err)
		}
		defer f.Close() // nolint: errcheck
		rdr = f
	} else {
		cfg.logger.Info("Reading config from STDIN")
		rdr = bufio.NewReader(os.Stdin)
	}

	cfg.conf = &config.Config{}
	if err := json.NewDecoder(rdr).Decode(cfg.conf); err != nil {
		cfg.logger.Fatalf("Failed to decode config: %s", err)
	}
	if lvl, err := logging.LevelFromString(cfg.conf.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}
	if cfg.conf.ShutdownTimeout == 0 {
		cfg.conf.ShutdownTimeout = defaultShutdownTimeout
	}
	return cfg
}

func (cfg *runCfg) runNode() *runCfg {
	n, err := node.New(cfg.conf,
		node.WithMetrics(metrics.NewPrometheus("mdp")),
		node.WithRequestMetrics(metrics.NewPrometheusRequests("mdp_status")))
	if err != nil {
		cfg.logger.Fatal("Failed to initialize node: ", err)
	}
	cfg.node = n
	cfg.ctx, cfg.cancel = context.WithCancel(context.Background())
	cfg.runErr = make(chan error, 1)
	go func() { cfg.runErr <- n.Run(cfg.ctx) }()

	if addr := cfg.conf.Interfaces.Status; addr != "" {
		cfg.status = &http.Server{Addr: addr, Handler: n}
		go func() {
			cfg.logger.Infof("Serving status on %s", addr)
			if err := cfg.status.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cfg.logger.Error("Status server stopped: ", err)
			}
		}()
	}
	return cfg
}

// waitDone blocks until done yields or a signal arrives. A second signal or
// the shutdown timeout terminates the process.
func (cfg *runCfg) waitDone(done <-chan error) *runCfg {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}...)
	select {
	case err := <-done:
		if err != nil {
			cfg.logger.Error(err)
		}
	case <-ch:
	}
	go func() {
		select {
		case <-time.After(time.Duration(cfg.conf.ShutdownTimeout)):
			cfg.logger.Fatal("Timeout reached: terminating")
		case s := <-ch:
			cfg.logger.Fatalf("Received signal %s: terminating", s)
		}
	}()
	return cfg
}

func (cfg *runCfg) stopNode() *runCfg {
	defer cfg.profileStop()
	if cfg.status != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		cfg.status.Shutdown(ctx) // nolint: errcheck
		cancel()
	}
	cfg.cancel()
	if err := <-cfg.runErr; err != nil {
		cfg.logger.Error("Node loop failed: ", err)
	}
	if err := cfg.node.Close(); err != nil {
		cfg.logger.Fatal("Failed to close node: ", err)
	}
	return cfg
}
