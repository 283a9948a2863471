// Package config handles mdltool configuration loading and management.
package config

// Config holds all tool settings.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Text    TextConfig    `yaml:"text"`
	Output  OutputConfig  `yaml:"output"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// TextConfig holds text tree (decompile/compile) settings.
type TextConfig struct {
	Charset     string `yaml:"charset"`      // Codepage for names, see pkg/encoding
	ShaderTable string `yaml:"shader_table"` // Optional alias -> shader YAML file
	AutoLOD     bool   `yaml:"auto_lod"`     // Recompute LOD partition counts on compile
}

// OutputConfig holds settings for written model files.
type OutputConfig struct {
	Compress         bool `yaml:"compress"`
	CompressionLevel int  `yaml:"compression_level"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
		Text: TextConfig{
			Charset:     "iso-8859-1",
			ShaderTable: "",
			AutoLOD:     false,
		},
		Output: OutputConfig{
			Compress:         false,
			CompressionLevel: 5,
		},
	}
}
