package logger

// Log level and format string constants used across LogConfig fields.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	LogFormatJSON    = "json"
	LogFormatText    = "text"
	LogFormatConsole = "console"
)

// RotationConfig controls lumberjack-based file rotation.
type RotationConfig struct {
	MaxSize    int  `json:"max_size" yaml:"max_size"`
	MaxAge     int  `json:"max_age" yaml:"max_age"`
	MaxBackups int  `json:"max_backups" yaml:"max_backups"`
	Compress   bool `json:"compress" yaml:"compress"`
}

// ConsoleLogConfig configures the stdout sink.
type ConsoleLogConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Level   string `json:"level" yaml:"level"`
	Format  string `json:"format" yaml:"format"`
}

// FileLogConfig configures the rotated file sink.
type FileLogConfig struct {
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Level    string         `json:"level" yaml:"level"`
	Format   string         `json:"format" yaml:"format"`
	Path     string         `json:"path" yaml:"path"`
	Rotation RotationConfig `json:"rotation" yaml:"rotation"`
}

// LogConfig is the top-level logging configuration consumed by NewLogger.
type LogConfig struct {
	Level   string           `json:"level" yaml:"level"`
	Console ConsoleLogConfig `json:"console" yaml:"console"`
	File    FileLogConfig    `json:"file" yaml:"file"`
}
