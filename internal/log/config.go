package log

// Config selects the level, format and outputs of a [Logger].
type Config struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Format is one of "text", "json" or "pattern".
	Format string `mapstructure:"format" yaml:"format"`
	// Pattern is used by the "pattern" format. It may contain %time, %level, %field and %msg.
	Pattern string     `mapstructure:"pattern" yaml:"pattern,omitempty"`
	Time    string     `mapstructure:"time" yaml:"time,omitempty"`
	File    FileConfig `mapstructure:"file" yaml:"file"`
}

type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

const (
	DefaultPattern = "%time [%level] %msg %field\n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)
