package config

const (
	defaultStagingDir          = "~/.local/share/memorycam/staging"
	defaultQueueDir            = "~/.local/share/memorycam/queue"
	defaultLogDir              = "~/.local/share/memorycam/logs"
	defaultEnrollmentPath      = "~/.config/memorycam/faces.json"
	defaultMode                = ModeContinuous
	defaultProbeInterval       = 1
	defaultSnapshotCooldown    = 10
	defaultProbeMaxWidth       = 320
	defaultJPEGQuality         = 85
	defaultCaptureTimeout      = 10
	defaultFaceThreshold       = 0.6
	defaultDetectorTimeout     = 20
	defaultSampleRate          = 44100
	defaultChannels            = 1
	defaultClipSeconds         = 5
	defaultChunkSeconds        = 300
	defaultImageInterval       = 5
	defaultLeaseSeconds        = 120
	defaultPollInterval        = 2
	defaultUploadBaseURL       = "http://localhost:5000"
	defaultUploadTimeout       = 10
	defaultUploadMinKbps       = 256
	defaultIdleSeconds         = 5
	defaultOfflineSeconds      = 5
	defaultDrainTimeoutSeconds = 30
	defaultCheckURL            = "https://www.google.com"
	defaultCheckTimeout        = 3
	defaultMinFreeMB           = 64
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

var (
	defaultCameraCommand   = []string{"rpicam-still", "--nopreview", "--immediate", "-o", "{output}"}
	defaultAudioCommand    = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
	defaultDetectorCommand = []string{"memorycam-faces", "{image}"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir:     defaultStagingDir,
			QueueDir:       defaultQueueDir,
			LogDir:         defaultLogDir,
			EnrollmentPath: defaultEnrollmentPath,
		},
		Capture: Capture{
			Mode: defaultMode,
		},
		Camera: Camera{
			Enabled:              true,
			Command:              append([]string(nil), defaultCameraCommand...),
			ProbeIntervalSeconds: defaultProbeInterval,
			CooldownSeconds:      defaultSnapshotCooldown,
			ProbeMaxWidth:        defaultProbeMaxWidth,
			JPEGQuality:          defaultJPEGQuality,
			CaptureTimeout:       defaultCaptureTimeout,
		},
		Face: Face{
			Enabled:         true,
			DetectorCommand: append([]string(nil), defaultDetectorCommand...),
			Threshold:       defaultFaceThreshold,
			DetectorTimeout: defaultDetectorTimeout,
		},
		Audio: Audio{
			Enabled:     true,
			Command:     append([]string(nil), defaultAudioCommand...),
			SampleRate:  defaultSampleRate,
			Channels:    defaultChannels,
			ClipSeconds: defaultClipSeconds,
		},
		Chunker: Chunker{
			ChunkSeconds:         defaultChunkSeconds,
			ImageIntervalSeconds: defaultImageInterval,
			TagImages:            true,
		},
		Queue: Queue{
			LeaseSeconds:        defaultLeaseSeconds,
			PollIntervalSeconds: defaultPollInterval,
		},
		Upload: Upload{
			BaseURL:             defaultUploadBaseURL,
			TimeoutSeconds:      defaultUploadTimeout,
			MinKbps:             defaultUploadMinKbps,
			IdleSeconds:         defaultIdleSeconds,
			OfflineSeconds:      defaultOfflineSeconds,
			DrainTimeoutSeconds: defaultDrainTimeoutSeconds,
		},
		Network: Network{
			CheckURL:            defaultCheckURL,
			CheckTimeoutSeconds: defaultCheckTimeout,
		},
		Artifact: Artifact{
			MinFreeMB: defaultMinFreeMB,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
