package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/visionbox/camnode/cmd"
	"github.com/visionbox/camnode/internal/api"
	"github.com/visionbox/camnode/internal/api/models"
	"github.com/visionbox/camnode/internal/camera"
	"github.com/visionbox/camnode/internal/config"
	"github.com/visionbox/camnode/internal/events"
	"github.com/visionbox/camnode/internal/logging"
	"github.com/visionbox/camnode/internal/session"
	"github.com/visionbox/camnode/internal/webrtc"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8080" toml:"server.port" env:"SERVER_PORT"`

	// Camera settings
	CameraDevice   string `help:"Video device path" default:"/dev/video0" toml:"camera.device" env:"CAMERA_DEVICE"`
	CameraSerial   string `help:"Device serial for stable path resolution" default:"" toml:"camera.serial" env:"CAMERA_SERIAL"`
	CameraWidth    int    `help:"Capture width" default:"1280" toml:"camera.width" env:"CAMERA_WIDTH"`
	CameraHeight   int    `help:"Capture height" default:"720" toml:"camera.height" env:"CAMERA_HEIGHT"`
	CameraFps      int    `help:"Capture framerate" default:"30" toml:"camera.fps" env:"CAMERA_FPS"`
	CameraRotation int    `help:"Rotation in degrees (0, 90, 180, 270)" default:"0" toml:"camera.rotation" env:"CAMERA_ROTATION"`

	// Connection manager settings
	CameraStartAttempts  int `help:"Device open attempts before giving up" default:"3" toml:"camera.start_attempts" env:"CAMERA_START_ATTEMPTS"`
	CameraRetryDelay     int `help:"Seconds between open attempts" default:"2" toml:"camera.retry_delay" env:"CAMERA_RETRY_DELAY"`
	CameraReconnectDelay int `help:"Base reconnect delay in seconds" default:"5" toml:"camera.reconnect_delay" env:"CAMERA_RECONNECT_DELAY"`
	CameraLivenessWindow int `help:"Seconds without frames before reconnecting" default:"30" toml:"camera.liveness_window" env:"CAMERA_LIVENESS_WINDOW"`
	CameraMaxBackoff     int `help:"Maximum reconnect backoff in seconds" default:"300" toml:"camera.max_backoff" env:"CAMERA_MAX_BACKOFF"`
	CameraFrameWait      int `help:"Per-frame wait in milliseconds" default:"1000" toml:"camera.frame_wait" env:"CAMERA_FRAME_WAIT"`

	// Acquisition loop settings
	CameraProbeInterval    int `help:"Seconds between device probes while disconnected" default:"10" toml:"camera.probe_interval" env:"CAMERA_PROBE_INTERVAL"`
	CameraErrorThreshold   int `help:"Consecutive read errors before a restart" default:"10" toml:"camera.error_threshold" env:"CAMERA_ERROR_THRESHOLD"`
	CameraTimeoutThreshold int `help:"Consecutive frame timeouts before a health warning" default:"50" toml:"camera.timeout_threshold" env:"CAMERA_TIMEOUT_THRESHOLD"`
	CameraRestartInterval  int `help:"Minutes of uptime before a planned restart" default:"60" toml:"camera.restart_interval" env:"CAMERA_RESTART_INTERVAL"`

	// Session settings
	SessionMaxAge int `help:"Minutes before a binding is considered stale" default:"60" toml:"session.max_age" env:"SESSION_MAX_AGE"`

	// ICE settings
	IceConfigPath string `help:"Path to ICE configuration JSON" default:"" toml:"ice.config_path" env:"ICE_CONFIG_PATH"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera  string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingSession string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingWebRTC  string `help:"WebRTC logging level" default:"info" toml:"logging.webrtc" env:"LOGGING_WEBRTC"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// cameraConfigs translates flat CLI options into the camera tunables.
func cameraConfigs(opts *Options) (camera.ManagerConfig, camera.ServiceConfig) {
	managerCfg := camera.DefaultManagerConfig()
	managerCfg.StartAttempts = opts.CameraStartAttempts
	managerCfg.StartRetryDelay = time.Duration(opts.CameraRetryDelay) * time.Second
	managerCfg.ReconnectBaseDelay = time.Duration(opts.CameraReconnectDelay) * time.Second
	managerCfg.ReconnectMaxDelay = time.Duration(opts.CameraMaxBackoff) * time.Second
	managerCfg.LivenessWindow = time.Duration(opts.CameraLivenessWindow) * time.Second
	managerCfg.FrameWait = time.Duration(opts.CameraFrameWait) * time.Millisecond

	serviceCfg := camera.DefaultServiceConfig()
	serviceCfg.ProbeInterval = time.Duration(opts.CameraProbeInterval) * time.Second
	serviceCfg.ErrorThreshold = opts.CameraErrorThreshold
	serviceCfg.TimeoutThreshold = opts.CameraTimeoutThreshold
	serviceCfg.RestartInterval = time.Duration(opts.CameraRestartInterval) * time.Minute

	return managerCfg, serviceCfg
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":  opts.LoggingCamera,
				"session": opts.LoggingSession,
				"webrtc":  opts.LoggingWebRTC,
				"api":     opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		cameraLogger := logging.GetLogger("camera")
		prober := camera.NewDeviceProber(opts.CameraDevice, opts.CameraSerial, cameraLogger)
		devicePath, err := prober.ResolvePath()
		if err != nil {
			logger.Warn("Device path resolution failed, using configured path",
				"device", opts.CameraDevice, "error", err)
			devicePath = opts.CameraDevice
		}

		backend := camera.NewPipeline(camera.PipelineConfig{
			DevicePath: devicePath,
			Width:      opts.CameraWidth,
			Height:     opts.CameraHeight,
			FPS:        opts.CameraFps,
			Rotation:   opts.CameraRotation,
		}, cameraLogger)

		managerCfg, serviceCfg := cameraConfigs(opts)
		manager := camera.NewManager(backend, prober, managerCfg, cameraLogger)
		cameraService := camera.NewService(manager, serviceCfg, cameraLogger)

		eventBus := events.New()
		cameraService.OnStateChange(func(old, new camera.State) {
			eventBus.Publish(events.CameraStateChangedEvent{
				From:      string(old),
				To:        string(new),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		})

		iceStore := config.NewICEStore(opts.IceConfigPath, logging.GetLogger("webrtc"))
		var iceWatcher *config.Watcher[config.ICEConfig]
		if opts.IceConfigPath != "" {
			iceWatcher = config.NewWatcher(opts.IceConfigPath, config.LoadICEFile, 0, logging.GetLogger("webrtc"))
			iceWatcher.OnReload(iceStore.Replace)
		}

		arbiter := session.NewArbiter(
			time.Duration(opts.SessionMaxAge)*time.Minute,
			logging.GetLogger("session"),
		)
		sessions := webrtc.NewManager(arbiter, iceStore, cameraService, eventBus, opts.CameraFps, logging.GetLogger("webrtc"))

		server := api.NewServer(&api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Sessions:     sessions,
			Camera:       cameraService,
			ICE:          iceStore,
			Bus:          eventBus,
			CameraConfig: models.CameraConfigData{
				DevicePath: devicePath,
				Serial:     opts.CameraSerial,
				Width:      opts.CameraWidth,
				Height:     opts.CameraHeight,
				FPS:        opts.CameraFps,
				Rotation:   opts.CameraRotation,
			},
			PrometheusHandler: promhttp.Handler(),
		})

		hooks.OnStart(func() {
			if startErr := cameraService.Start(); startErr != nil {
				logger.Warn("Camera unavailable, serving in degraded mode", "error", startErr)
			}

			if iceWatcher != nil {
				if watchErr := iceWatcher.Start(); watchErr != nil {
					logger.Warn("ICE config watcher failed to start", "error", watchErr)
				}
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			sessions.Shutdown()

			if iceWatcher != nil {
				_ = iceWatcher.Stop()
			}

			cameraService.Stop()
		})
	})

	cli.Root().AddCommand(cmd.CreateMonitorCmd())

	cli.Run()
}
