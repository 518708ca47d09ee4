package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Log level and vocabulary preload are applied live; everything else is
// reported in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PreloadChanged is true when vocabulary.preload_file names a different
	// file.
	PreloadChanged bool
	NewPreloadFile string

	// RestartRequired lists the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Changed reports whether d describes any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PreloadChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Vocabulary.PreloadFile != new.Vocabulary.PreloadFile {
		d.PreloadChanged = true
		d.NewPreloadFile = new.Vocabulary.PreloadFile
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Controller != new.Controller {
		d.RestartRequired = append(d.RestartRequired, "controller")
	}
	if !reflect.DeepEqual(old.Engine, new.Engine) {
		d.RestartRequired = append(d.RestartRequired, "engine")
	}
	if old.Vocabulary.PostgresDSN != new.Vocabulary.PostgresDSN {
		d.RestartRequired = append(d.RestartRequired, "vocabulary")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}
