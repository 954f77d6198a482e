package config

// Option adjusts how Load locates its sources.
type Option func(*options)

type options struct {
	configPath string
	explicit   bool
	envPrefix  string
}

// WithConfigFile specifies an explicit configuration file path. An empty path
// disables the configuration file.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
		o.explicit = true
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "SOLO2D"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}
