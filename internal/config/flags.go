package config

import "flag"

// Flags are the command-line overrides shared by every mdltool command.
type Flags struct {
	Config      string
	Debug       bool
	LogFile     string
	Charset     string
	ShaderTable string
	AutoLOD     bool
	Compress    bool
}

// RegisterFlags adds the shared flags to fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogFile, "log", "", "Write logs to this file")
	fs.StringVar(&f.Charset, "charset", "", "Codepage for names in text trees")
	fs.StringVar(&f.ShaderTable, "shaders", "", "Shader alias table (YAML)")
	fs.BoolVar(&f.AutoLOD, "auto-lod", false, "Recompute LOD partition counts")
	fs.BoolVar(&f.Compress, "zstd", false, "Compress written model files")
	return f
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config, f *Flags) {
	if f == nil {
		return
	}
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.Charset != "" {
		cfg.Text.Charset = f.Charset
	}
	if f.ShaderTable != "" {
		cfg.Text.ShaderTable = f.ShaderTable
	}
	if f.AutoLOD {
		cfg.Text.AutoLOD = true
	}
	if f.Compress {
		cfg.Output.Compress = true
	}
}
