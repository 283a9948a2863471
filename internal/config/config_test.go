package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}
	if cfg.Text.Charset != "iso-8859-1" {
		t.Errorf("expected charset iso-8859-1, got %s", cfg.Text.Charset)
	}
	if cfg.Text.AutoLOD {
		t.Error("expected auto_lod to be false by default")
	}
	if cfg.Output.Compress {
		t.Error("expected compress to be false by default")
	}
	if cfg.Output.CompressionLevel != 5 {
		t.Errorf("expected compression level 5, got %d", cfg.Output.CompressionLevel)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
logging:
  level: "debug"
  log_file: "mdltool.log"

text:
  charset: "windows-1252"
  shader_table: "shaders.yaml"
  auto_lod: true

output:
  compress: true
  compression_level: 19
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "mdltool.log" {
		t.Errorf("expected log file 'mdltool.log', got %s", cfg.Logging.LogFile)
	}
	if cfg.Text.Charset != "windows-1252" {
		t.Errorf("expected charset windows-1252, got %s", cfg.Text.Charset)
	}
	if cfg.Text.ShaderTable != "shaders.yaml" {
		t.Errorf("expected shader table shaders.yaml, got %s", cfg.Text.ShaderTable)
	}
	if !cfg.Text.AutoLOD {
		t.Error("expected auto_lod to be true")
	}
	if !cfg.Output.Compress || cfg.Output.CompressionLevel != 19 {
		t.Errorf("unexpected output config %+v", cfg.Output)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
output:
  compression_level: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, "/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "mdltool.yaml")
	if err := os.WriteFile(configPath, []byte("text:\n  auto_lod: true\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if path := findConfigFile(); path == "" {
		t.Error("expected to find mdltool.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(*testing.T, *Config)
	}{
		{
			name: "debug flag",
			args: []string{"-debug"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "text flags",
			args: []string{"-charset", "euc-kr", "-shaders", "s.yaml", "-auto-lod"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Text.Charset != "euc-kr" || cfg.Text.ShaderTable != "s.yaml" || !cfg.Text.AutoLOD {
					t.Errorf("unexpected text config %+v", cfg.Text)
				}
			},
		},
		{
			name: "output and log flags",
			args: []string{"-zstd", "-log", "out.log"},
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Output.Compress {
					t.Error("expected compress with -zstd")
				}
				if cfg.Logging.LogFile != "out.log" {
					t.Errorf("expected log file out.log, got %s", cfg.Logging.LogFile)
				}
			},
		},
		{
			name: "no flags keeps defaults",
			args: nil,
			verify: func(t *testing.T, cfg *Config) {
				if *cfg != *Default() {
					t.Errorf("config changed without flags: %+v", cfg)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			flags := RegisterFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			cfg := Default()
			applyFlags(cfg, flags)
			tt.verify(t, cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
logging:
  level: warn
text:
  charset: windows-1252
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	flags := RegisterFlags(fs)
	if err := fs.Parse([]string{"-config", configPath, "-debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(flags)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Level from flag, not file.
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug from flag, got %s", cfg.Logging.Level)
	}
	// Charset from file since no flag override.
	if cfg.Text.Charset != "windows-1252" {
		t.Errorf("expected charset windows-1252 from file, got %s", cfg.Text.Charset)
	}
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Text.AutoLOD = true
	cfg.Output.CompressionLevel = 9
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatal(err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded %+v, want %+v", loaded, cfg)
	}
}
