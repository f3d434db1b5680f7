package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonas-koeritz/viscacam/bridge"
	"github.com/jonas-koeritz/viscacam/config"
	"github.com/jonas-koeritz/viscacam/httpapi"
	"github.com/jonas-koeritz/viscacam/libvisca"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func connect(ip net.IP, cfg config.CameraConfig, resetSequence bool) (*libvisca.Camera, error) {
	if ip == nil {
		return nil, errors.New("invalid camera IP-Address")
	}
	model, err := libvisca.LookupModel(cfg.Model)
	if err != nil {
		return nil, err
	}

	camera, err := libvisca.CreateCamera(ip, cfg.Port, model)
	if err != nil {
		return nil, err
	}
	camera.SetVerbose(cfg.Verbose)
	camera.SetTimeout(cfg.Timeout)
	camera.SetRetryPolicy(cfg.MaxRetries, cfg.Backoff)
	if cfg.ListenPort != 0 {
		camera.SetListenPort(cfg.ListenPort)
	}

	if err := camera.Connect(); err != nil {
		return nil, err
	}
	if resetSequence {
		if err := camera.ResetSequence(cfg.Timeout); err != nil {
			camera.Disconnect()
			return nil, err
		}
	}
	return camera, nil
}

func main() {
	var configFile string
	var port int
	var model string
	var timeout time.Duration
	var listenPort int
	var maxRetries int
	var backoff time.Duration
	var verbose bool
	var resetSequence bool
	var cpuprofile string
	var memoryprofile string

	var cpuprofileFile *os.File

	cfg := config.Default()
	var camera *libvisca.Camera

	var rootCmd = &cobra.Command{
		Use:          "viscacam",
		Short:        "viscacam controls PTZ cameras using VISCA over IP",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cpuprofile != "" {
				var err error
				cpuprofileFile, err = os.Create(cpuprofile)
				if err != nil {
					log.Printf("Could not create CPU profiling file: %s\n", err)
				} else if err = pprof.StartCPUProfile(cpuprofileFile); err != nil {
					log.Printf("Could not start CPU profiling: %s\n", err)
				}
			}

			if configFile != "" {
				loaded, err := config.Load(configFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Camera.Port = port
			}
			if flags.Changed("model") {
				cfg.Camera.Model = model
			}
			if flags.Changed("timeout") {
				cfg.Camera.Timeout = timeout
			}
			if flags.Changed("listen-port") {
				cfg.Camera.ListenPort = listenPort
			}
			if flags.Changed("max-retries") {
				cfg.Camera.MaxRetries = maxRetries
			}
			if flags.Changed("backoff") {
				cfg.Camera.Backoff = backoff
			}
			if flags.Changed("verbose") {
				cfg.Camera.Verbose = verbose
			}
			return cfg.Validate()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if cpuprofileFile != nil {
				pprof.StopCPUProfile()
				cpuprofileFile.Close()
			}

			runtime.GC()
			if memoryprofile != "" {
				f, err := os.Create(memoryprofile)
				if err != nil {
					log.Printf("Could not create Memory profiling file: %s\n", err)
					return
				}
				defer f.Close()
				err = pprof.WriteHeapProfile(f)
				if err != nil {
					log.Printf("Could not start Memory profiling: %s\n", err)
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Read settings from a YAML file")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "P", libvisca.DefaultPort, "Specify an alternative camera port to connect to")
	rootCmd.PersistentFlags().StringVarP(&model, "model", "M", "srg300", "Camera model used to build commands")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", libvisca.DefaultTimeout, "Time to wait for an acknowledgement before sending again")
	rootCmd.PersistentFlags().IntVar(&listenPort, "listen-port", 0, "Local port replies are received on (default: camera port)")
	rootCmd.PersistentFlags().IntVar(&maxRetries, "max-retries", 0, fmt.Sprintf("Give up after this many retries, 0 retries forever (serve: %d)", libvisca.DefaultDispatchRetries))
	rootCmd.PersistentFlags().DurationVar(&backoff, "backoff", 0, "Initial delay between retries, doubled on every retry")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print verbose output")
	rootCmd.PersistentFlags().BoolVar(&resetSequence, "reset-sequence", false, "Reset the cameras sequence number before sending")
	rootCmd.PersistentFlags().StringVarP(&cpuprofile, "cpuprofile", "c", "", "Profile CPU usage")
	rootCmd.PersistentFlags().StringVarP(&memoryprofile, "memoryprofile", "m", "", "Profile memory usage")

	rootCmd.PersistentFlags().MarkHidden("cpuprofile")
	rootCmd.PersistentFlags().MarkHidden("memoryprofile")

	// cameraCommand builds a subcommand whose last argument is the cameras IP address
	cameraCommand := func(use, short string, nargs int, run func(args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(nargs),
			PreRunE: func(cmd *cobra.Command, args []string) error {
				var err error
				camera, err = connect(net.ParseIP(args[len(args)-1]), cfg.Camera, resetSequence)
				return err
			},
			RunE: func(cmd *cobra.Command, args []string) error {
				return run(args[:len(args)-1])
			},
			PostRun: func(cmd *cobra.Command, args []string) {
				if camera != nil {
					camera.Disconnect()
				}
			},
		}
	}

	var power = cameraCommand("power [on|off] [Cameras IP Address]", "Switch the camera on or into standby", 2, func(args []string) error {
		switch strings.ToLower(args[0]) {
		case "on":
			return camera.PowerOn()
		case "off":
			return camera.PowerOff()
		}
		return fmt.Errorf("unknown power state %q", args[0])
	})

	var home = cameraCommand("home [Cameras IP Address]", "Move the camera to its home position", 1, func(args []string) error {
		return camera.GoHome()
	})

	var preset = cameraCommand("preset [Number] [Cameras IP Address]", "Recall a stored preset", 2, func(args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid preset %q", args[0])
		}
		return camera.GoPreset(n)
	})

	var zoomSpeed float64
	var zoom = cameraCommand("zoom [in|out|stop] [Cameras IP Address]", "Zoom the lens", 2, func(args []string) error {
		direction, err := libvisca.ParseZoomDirection(args[0])
		if err != nil {
			return err
		}
		if zoomSpeed < 0 {
			return camera.Zoom(direction)
		}
		return camera.ZoomWithSpeed(direction, zoomSpeed)
	})
	zoom.Flags().Float64VarP(&zoomSpeed, "speed", "s", -1, "Zoom speed between 0.0 and 1.0 (default: standard speed)")

	var moveSpeed float64
	var relative bool
	var move = cameraCommand("move [Pan] [Tilt] [Cameras IP Address]", "Pan and tilt to a position in degrees", 3, func(args []string) error {
		pan, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid pan angle %q", args[0])
		}
		tilt, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid tilt angle %q", args[1])
		}
		if relative {
			return camera.MoveRelative(pan, tilt, moveSpeed)
		}
		return camera.MoveAbsolute(pan, tilt, moveSpeed)
	})
	move.Long = "Pan and tilt to a position in degrees. Use -- before negative angles, e.g. viscacam move -- -90 10 192.168.0.100"
	move.Flags().Float64VarP(&moveSpeed, "speed", "s", 1.0, "Movement speed between 0.0 and 1.0")
	move.Flags().BoolVarP(&relative, "relative", "r", false, "Move relative to the current position")

	var reset = cameraCommand("reset [Cameras IP Address]", "Reset the cameras sequence number", 1, func(args []string) error {
		return camera.ResetSequence(cfg.Camera.Timeout)
	})

	var cmd = cameraCommand("cmd [RAW Command] [Cameras IP Address]", "Send a raw VISCA command to the camera", 2, func(args []string) error {
		payload, err := hex.DecodeString(strings.ReplaceAll(args[0], " ", ""))
		if err != nil {
			return err
		}
		command := libvisca.RawCommand(payload)
		log.Printf("Sending Command: %X\n", libvisca.Wrap(command.PayloadType, camera.SequenceNumber(), command.Payload))
		return camera.Send(command, cfg.Camera.Timeout)
	})

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Forward commands received on the text bridge and the HTTP API to cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			model, err := libvisca.LookupModel(cfg.Camera.Model)
			if err != nil {
				return err
			}

			registry := prometheus.NewRegistry()
			dispatcher := libvisca.NewDispatcher(model, cfg.Camera.Timeout)
			dispatcher.SetVerbose(cfg.Camera.Verbose)
			dispatcher.SetMetrics(libvisca.NewMetrics(registry))
			dispatcher.SetRetryPolicy(cfg.Camera.MaxRetries, cfg.Camera.Backoff)
			dispatcher.SetListenPort(cfg.Camera.ListenPort)
			defer dispatcher.Close()

			httpServer := &http.Server{
				Addr:    net.JoinHostPort(cfg.HTTP.Address, strconv.Itoa(cfg.HTTP.Port)),
				Handler: httpapi.NewRouter(dispatcher, registry),
			}
			go func() {
				log.Printf("HTTP API listening on %s\n", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Printf("ERROR starting HTTP API: %s\n", err)
					stop()
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdownCtx)
			}()

			bridgeServer := bridge.CreateServer(ctx, cfg.Bridge.Address, cfg.Bridge.Port, dispatcher)
			bridgeServer.SetVerbose(cfg.Camera.Verbose)
			return bridgeServer.ListenAndServe()
		},
	}

	rootCmd.AddCommand(power)
	rootCmd.AddCommand(home)
	rootCmd.AddCommand(preset)
	rootCmd.AddCommand(zoom)
	rootCmd.AddCommand(move)
	rootCmd.AddCommand(reset)
	rootCmd.AddCommand(cmd)
	rootCmd.AddCommand(serve)

	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
