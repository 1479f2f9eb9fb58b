package serve

import (
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gladserv/shallfs/engine"
	"github.com/gladserv/shallfs/utils"
	"github.com/gladserv/shallfs/utils/log"
)

const (
	usage                 = "serve"
	short                 = "Mount journal devices and serve the control socket"
	long                  = "This command mounts every device listed in the configuration file and answers info, control and event-stream requests on a unix socket until a termination signal arrives"
	example               = "shallfs serve --config <path>"
	defaultConfigFilePath = "./shallfs.yml"
	configDesc            = "set the path for the shallfs YAML configuration file"
)

var (
	// Cmd is the serve command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"start", "mount"},
		Example:    example,
		RunE:       executeServe,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	utils.InstanceConfig.StartTime = time.Now()
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeServe implements the serve command.
func executeServe(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage once the config file has been read.
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	// Attempt to set configuration.
	if err = utils.InstanceConfig.Parse(data); err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	config := &utils.InstanceConfig

	log.Info("initializing shallfs...")
	start := time.Now()

	reg := engine.NewRegistry()
	for _, d := range config.Devices {
		opts, err2 := engine.ParseOptions(d.Options, engine.DefaultOptions())
		if err2 != nil {
			return fmt.Errorf("%s: bad options: %w", d.Device, err2)
		}
		e, err2 := engine.Mount(d.Device, opts)
		if err2 != nil {
			unmountAll(reg)
			return fmt.Errorf("mount %s: %w", d.Device, err2)
		}
		if err2 = reg.Add(e); err2 != nil {
			_ = e.Unmount()
			unmountAll(reg)
			return fmt.Errorf("register %s: %w", d.Device, err2)
		}
		log.Info("mounted %s", d.Device)
	}

	log.Info("startup time: %s", time.Since(start))

	server := engine.NewServer(reg, config.Socket)

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				err2 := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1)
				if err2 != nil {
					log.Error("failed to write goroutine pprof: %v", err2)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
				time.Sleep(config.StopGracePeriod)
				if err2 := server.Close(); err2 != nil {
					log.Error("control socket close error: %v", err2)
				}
				unmountAll(reg)
				shutdown()
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	log.Info("launching control socket at %s...", config.Socket)
	if err := server.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to serve control socket - error: %w", err)
	}
	return nil
}

// unmountAll commits and releases every registered device.
func unmountAll(reg *engine.Registry) {
	for _, path := range reg.Paths() {
		e, err := reg.Get(path)
		if err != nil {
			continue
		}
		if err := e.Unmount(); err != nil {
			log.Error("unmount %s: %v", path, err)
		} else {
			log.Info("unmounted %s", path)
		}
		reg.Remove(path)
	}
}

func shutdown() {
	log.Info("exiting...")
	os.Exit(0)
}
