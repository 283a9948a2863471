// mdltool is a CLI utility for inspecting and editing chunked model files.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/mdlkit/internal/config"
	"github.com/Faultbox/mdlkit/internal/fileio"
	"github.com/Faultbox/mdlkit/internal/logger"
	"github.com/Faultbox/mdlkit/pkg/edit"
	"github.com/Faultbox/mdlkit/pkg/encoding"
	"github.com/Faultbox/mdlkit/pkg/formats"
	"github.com/Faultbox/mdlkit/pkg/math"
	"github.com/Faultbox/mdlkit/pkg/skeleton"
	"github.com/Faultbox/mdlkit/pkg/textree"
)

// Sidecar file extensions written by export and read by import.
const (
	extVertices = ".vb"
	extIndices  = ".ib"
	extVGMap    = ".vgmap"
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	defer logger.Sync()

	switch command {
	case "info":
		return cmdInfo(args, out)
	case "decompile", "dc":
		return cmdDecompile(args, out)
	case "compile", "c":
		return cmdCompile(args)
	case "export":
		return cmdExport(args, out)
	case "import":
		return cmdImport(args)
	case "rescale":
		return cmdRescale(args)
	case "recalc-lod":
		return cmdRecalcLod(args)
	case "dump":
		return cmdDump(args, out)
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(os.Stderr)
		return errors.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `mdltool - chunked model file utility

Usage:
  mdltool <command> [options] <args>

Commands:
  info <model>                              Show chunks and geometry statistics
  decompile <model> [out.yaml]              Write the model as a YAML text tree
  compile <in.yaml> <model>                 Build a model from a text tree
  export <model> <submesh> <prefix>         Write one submesh as prefix.vb/.ib/.vgmap
  import <model> <submesh> <prefix> [...]   Replace submeshes from exported files
  rescale <model> <bone> <x> [<y> <z>]      Set a bone's scale and re-bake transforms
  recalc-lod <model>                        Recompute LOD partition counts
  dump <model>                              Dump the parsed model structure

Shared options:
  -config <file>   Config file (default ./mdltool.yaml)
  -debug           Debug logging
  -log <file>      Also log to a rotated file
  -charset <name>  Codepage of names in text trees (default iso-8859-1)
  -shaders <file>  Shader alias table used by compile
  -auto-lod        Recompute LOD partition counts on compile
  -zstd            Compress written model files

Examples:
  mdltool info body.mdl
  mdltool decompile -charset euc-kr body.mdl body.yaml
  mdltool export body.mdl 3 work/sub3
  mdltool import -o body_new.mdl body.mdl 3 work/sub3
  mdltool rescale body.mdl Head 1.2`)
}

// env is the configured state of one command invocation.
type env struct {
	fs   *flag.FlagSet
	cfg  *config.Config
	text textree.Options
}

// setup parses shared and command flags, loads the config and initializes
// logging. register adds command-specific flags and may be nil.
func setup(name, usage string, args []string, minArgs int, register func(fs *flag.FlagSet)) (*env, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	flags := config.RegisterFlags(fs)
	if register != nil {
		register(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: mdltool %s %s\n", name, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < minArgs {
		fs.Usage()
		return nil, errors.Errorf("%s: expected %s", name, usage)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return nil, errors.Wrap(err, "init logger")
	}

	cs, err := encoding.Lookup(cfg.Text.Charset)
	if err != nil {
		return nil, err
	}
	e := &env{fs: fs, cfg: cfg, text: textree.Options{Charset: cs, AutoLOD: cfg.Text.AutoLOD}}
	if cfg.Text.ShaderTable != "" {
		if e.text.Shaders, err = textree.LoadShaderTable(cfg.Text.ShaderTable); err != nil {
			return nil, err
		}
		logger.Debug("loaded shader table",
			zap.String("path", cfg.Text.ShaderTable),
			zap.Int("aliases", len(e.text.Shaders)))
	}
	return e, nil
}

// writeModel saves m to path with the configured compression.
func (e *env) writeModel(path string, m *formats.Model) error {
	data, err := m.Save()
	if err != nil {
		return err
	}
	opts := fileio.WriteOptions{Compress: e.cfg.Output.Compress, Level: e.cfg.Output.CompressionLevel}
	if err := fileio.WriteFile(path, data, opts); err != nil {
		return err
	}
	logger.Info("wrote model", zap.String("path", path), zap.Int("bytes", len(data)), zap.Bool("zstd", opts.Compress))
	return nil
}

func loadGeometry(path string) (*formats.Model, *formats.Geometry, error) {
	m, err := formats.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	g := m.Geometry()
	if g == nil {
		return nil, nil, errors.Errorf("%s has no geometry chunk", path)
	}
	return m, g, nil
}

func cmdInfo(args []string, out io.Writer) error {
	e, err := setup("info", "<model>", args, 1, nil)
	if err != nil {
		return err
	}
	path := e.fs.Arg(0)
	m, err := formats.LoadFile(path)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Model:   %s\n", path)
	fmt.Fprintf(out, "Version: %s\n", m.Version)
	fmt.Fprintf(out, "Chunks:  %d\n", len(m.Chunks))
	for i, mc := range m.Chunks {
		switch {
		case mc.Skeleton != nil:
			t := mc.Skeleton
			fmt.Fprintf(out, "  [%d] %s v%s  %d bones, %d external ids, names: %v\n",
				i, mc.Tag, mc.Version, t.BoneCount(), len(t.ExternalIDs), t.Names != nil)
		case mc.Geometry != nil:
			g := mc.Geometry
			s := g.Stats()
			fmt.Fprintf(out, "  [%d] %s v%s  platform %s\n", i, mc.Tag, mc.Version, g.Platform)
			fmt.Fprintf(out, "      materials %d, vertex buffers %d, index buffers %d, bone maps %d, matrices %d\n",
				s.Materials, s.VertexBuffers, s.IndexBuffers, s.BoneMaps, s.Matrices)
			fmt.Fprintf(out, "      submeshes %d (%d vertices, %d indices), lod groups %d (%d meshes)\n",
				s.Submeshes, s.Vertices, s.Indices, s.LodGroups, s.Meshes)
			if len(g.Unknown) > 0 {
				fmt.Fprintf(out, "      unknown sections %d\n", len(g.Unknown))
			}
			for gi := range g.LodGroups {
				if !g.LodCountsValid(&g.LodGroups[gi]) {
					fmt.Fprintf(out, "      lod group %d: stale partition counts\n", gi)
				}
			}
			if err := g.CheckReferences(); err != nil {
				fmt.Fprintf(out, "      references: %v\n", err)
			}
			logger.Debug("geometry stats", zap.Int("chunk", i), zap.Any("stats", s))
		default:
			fmt.Fprintf(out, "  [%d] %s v%s  %d bytes (opaque)\n", i, mc.Tag, mc.Version, len(mc.Raw))
		}
	}
	return nil
}

func cmdDecompile(args []string, out io.Writer) error {
	e, err := setup("decompile", "<model> [out.yaml]", args, 1, nil)
	if err != nil {
		return err
	}
	m, err := formats.LoadFile(e.fs.Arg(0))
	if err != nil {
		return err
	}
	text, err := textree.Decompile(m, e.text)
	if err != nil {
		return err
	}
	if e.fs.NArg() < 2 {
		_, err = out.Write(text)
		return err
	}
	return fileio.WriteFile(e.fs.Arg(1), text, fileio.WriteOptions{})
}

func cmdCompile(args []string) error {
	e, err := setup("compile", "<in.yaml> <model>", args, 2, nil)
	if err != nil {
		return err
	}
	text, err := fileio.ReadFile(e.fs.Arg(0))
	if err != nil {
		return err
	}
	m, err := textree.Compile(text, e.text)
	if err != nil {
		return errors.Wrapf(err, "compile %s", e.fs.Arg(0))
	}
	return e.writeModel(e.fs.Arg(1), m)
}

func parseSubmesh(s string) (formats.SubmeshIndex, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid submesh index %q", s)
	}
	return formats.SubmeshIndex(n), nil
}

func cmdExport(args []string, out io.Writer) error {
	e, err := setup("export", "<model> <submesh> <prefix>", args, 3, nil)
	if err != nil {
		return err
	}
	m, g, err := loadGeometry(e.fs.Arg(0))
	if err != nil {
		return err
	}
	idx, err := parseSubmesh(e.fs.Arg(1))
	if err != nil {
		return err
	}
	prefix := e.fs.Arg(2)

	session := edit.NewSession(g, m.Skeleton())
	vertices, indices, err := session.ExportSubmesh(idx)
	if err != nil {
		return err
	}
	if err := fileio.WriteFile(prefix+extVertices, vertices, fileio.WriteOptions{}); err != nil {
		return err
	}
	if err := fileio.WriteFile(prefix+extIndices, indices, fileio.WriteOptions{}); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported submesh %d: %d vertex bytes, %d index bytes\n", idx, len(vertices), len(indices))

	if bm := g.Submeshes[idx].BoneMap; bm >= 0 {
		vg, err := edit.ExportVGMap(g, m.Skeleton(), bm)
		if err != nil {
			return err
		}
		if err := fileio.WriteFile(prefix+extVGMap, edit.FormatVGMap(vg), fileio.WriteOptions{}); err != nil {
			return err
		}
		fmt.Fprintf(out, "Exported bone map %d: %d entries\n", bm, len(vg))
	}
	return nil
}

func cmdImport(args []string) error {
	var output string
	e, err := setup("import", "<model> <submesh> <prefix> [<submesh> <prefix>...]", args, 3, func(fs *flag.FlagSet) {
		fs.StringVar(&output, "o", "", "Output model (default: overwrite input)")
	})
	if err != nil {
		return err
	}
	if e.fs.NArg()%2 != 1 {
		e.fs.Usage()
		return errors.New("import: submesh and prefix must come in pairs")
	}
	path := e.fs.Arg(0)
	m, g, err := loadGeometry(path)
	if err != nil {
		return err
	}

	// One session so index widths stay consistent across submeshes.
	session := edit.NewSession(g, m.Skeleton())
	for k := 1; k < e.fs.NArg(); k += 2 {
		idx, err := parseSubmesh(e.fs.Arg(k))
		if err != nil {
			return err
		}
		prefix := e.fs.Arg(k + 1)
		vertices, err := fileio.ReadFile(prefix + extVertices)
		if err != nil {
			return err
		}
		indices, err := fileio.ReadFile(prefix + extIndices)
		if err != nil {
			return err
		}
		var vgmap []byte
		if _, err := os.Stat(prefix + extVGMap); err == nil {
			if vgmap, err = fileio.ReadFile(prefix + extVGMap); err != nil {
				return err
			}
		}
		if err := session.ImportSubmesh(idx, vertices, indices, vgmap); err != nil {
			return errors.Wrapf(err, "import %s", prefix)
		}
	}

	if output == "" {
		output = path
	}
	return e.writeModel(output, m)
}

func cmdRescale(args []string) error {
	var output string
	e, err := setup("rescale", "<model> <bone> <x> [<y> <z>]", args, 3, func(fs *flag.FlagSet) {
		fs.StringVar(&output, "o", "", "Output model (default: overwrite input)")
	})
	if err != nil {
		return err
	}
	path := e.fs.Arg(0)
	m, err := formats.LoadFile(path)
	if err != nil {
		return err
	}
	skel := m.Skeleton()
	if skel == nil {
		return errors.Errorf("%s has no skeleton chunk", path)
	}

	bone := skel.FindBone(e.fs.Arg(1))
	if bone < 0 {
		n, err := strconv.Atoi(e.fs.Arg(1))
		if err != nil {
			return errors.Wrapf(formats.ErrRange, "no bone named %q", e.fs.Arg(1))
		}
		bone = n
	}

	var xyz [3]float32
	for i := range xyz {
		arg := e.fs.Arg(2 + i)
		if arg == "" {
			xyz[i] = xyz[0]
			continue
		}
		f, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return errors.Errorf("invalid scale %q", arg)
		}
		xyz[i] = float32(f)
	}
	if err := skeleton.Rescale(skel, bone, math.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}); err != nil {
		return err
	}
	logger.Info("rescaled bone", zap.String("bone", skel.BoneName(bone)), zap.Float32s("scale", xyz[:]))

	if output == "" {
		output = path
	}
	return e.writeModel(output, m)
}

func cmdRecalcLod(args []string) error {
	var output string
	e, err := setup("recalc-lod", "<model>", args, 1, func(fs *flag.FlagSet) {
		fs.StringVar(&output, "o", "", "Output model (default: overwrite input)")
	})
	if err != nil {
		return err
	}
	path := e.fs.Arg(0)
	m, g, err := loadGeometry(path)
	if err != nil {
		return err
	}
	if err := g.RecalcLodGroups(); err != nil {
		return err
	}
	if output == "" {
		output = path
	}
	return e.writeModel(output, m)
}

func cmdDump(args []string, out io.Writer) error {
	var depth int
	e, err := setup("dump", "<model>", args, 1, func(fs *flag.FlagSet) {
		fs.IntVar(&depth, "depth", 0, "Maximum nesting depth (0 = unlimited)")
	})
	if err != nil {
		return err
	}
	m, err := formats.LoadFile(e.fs.Arg(0))
	if err != nil {
		return err
	}
	cfg := spew.ConfigState{
		Indent:                  "  ",
		MaxDepth:                depth,
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		SortKeys:                true,
	}
	cfg.Fdump(out, m)
	return nil
}
