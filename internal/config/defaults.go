package config

import "time"

const (
	defaultWorkDir            = "~/.local/share/converto/work"
	defaultOutputDir          = "~/.local/share/converto/outputs"
	defaultLogDir             = "~/.local/share/converto/logs"
	defaultHistoryDB          = "~/.local/share/converto/history.db"
	defaultWorkers            = 2
	defaultRetentionSeconds   = 1800
	defaultCancelGraceSeconds = 10
	defaultMinFreeDiskMiB     = 512
	defaultFFmpeg             = "ffmpeg"
	defaultFFprobe            = "ffprobe"
	defaultPDFToPPM           = "pdftoppm"
	defaultImageQuality       = 90
	defaultAudioBitrate       = "192k"
	defaultLogLevel           = "info"
	defaultLogFormat          = "console"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			HistoryDB: defaultHistoryDB,
		},
		Scheduler: Scheduler{
			Workers:            defaultWorkers,
			RetentionSeconds:   defaultRetentionSeconds,
			CancelGraceSeconds: defaultCancelGraceSeconds,
			MinFreeDiskMiB:     defaultMinFreeDiskMiB,
		},
		Tools: Tools{
			FFmpeg:   defaultFFmpeg,
			FFprobe:  defaultFFprobe,
			PDFToPPM: defaultPDFToPPM,
		},
		Convert: Convert{
			ImageQuality: defaultImageQuality,
			AudioBitrate: defaultAudioBitrate,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Retention returns the configured retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Scheduler.RetentionSeconds) * time.Second
}

// CancelGrace returns how long a cancelled backend gets to shut down.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Scheduler.CancelGraceSeconds) * time.Second
}

// MinFreeDiskBytes returns the scratch disk headroom floor in bytes.
func (c *Config) MinFreeDiskBytes() uint64 {
	if c.Scheduler.MinFreeDiskMiB <= 0 {
		return 0
	}
	return uint64(c.Scheduler.MinFreeDiskMiB) << 20
}
