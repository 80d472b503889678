package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"smelt/internal/codegen"
	"smelt/internal/observ"
	"smelt/internal/pipeline"
	"smelt/internal/sig"
	"smelt/internal/translate"
	"smelt/internal/wasmbin"
)

const artifactExt = ".smeltobj"

var compileCmd = &cobra.Command{
	Use:   "compile [flags] module.wasm",
	Short: "Compile a WebAssembly module to a native artifact",
	Long:  "Compile a WebAssembly module ahead of time, writing a relocatable " + artifactExt + " artifact.\nDefaults come from smelt.toml when one is found; flags win over it.",
	Args:  cobra.ExactArgs(1),
	RunE:  compileExecution,
}

func init() {
	compileCmd.Flags().String("target", codegen.TargetAMD64.String(), "code generation target")
	compileCmd.Flags().Int("jobs", 0, "worker parallelism (0 = all CPUs)")
	compileCmd.Flags().String("bounds", "explicit", "memory bounds-check policy (explicit|guard)")
	compileCmd.Flags().Bool("unwind", true, "emit unwind records")
	compileCmd.Flags().StringP("out", "o", "", "output path (default: input name with "+artifactExt+")")
	compileCmd.Flags().Bool("cache", false, "reuse and populate the artifact cache")
	compileCmd.Flags().String("cache-dir", "", "cache directory (default: user cache dir)")
	compileCmd.Flags().String("ui", "auto", "interactive progress display (auto|on|off)")
}

func compileExecution(cmd *cobra.Command, args []string) error {
	inputPath := args[0]

	cleanupProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer cleanupProfiling()

	manifest, manifestFound, err := loadProjectManifest(filepath.Dir(inputPath))
	if err != nil {
		return err
	}

	opts, err := resolveCompileOptions(cmd, manifest)
	if err != nil {
		return err
	}

	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	timings, err := cmd.Flags().GetBool("timings")
	if err != nil {
		return err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}
	useCache, err := cmd.Flags().GetBool("cache")
	if err != nil {
		return err
	}
	cacheDir, err := cmd.Flags().GetString("cache-dir")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

	outputPath, err := resolveOutputPath(cmd, inputPath, manifest, manifestFound)
	if err != nil {
		return err
	}

	moduleBytes, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}

	var cache *pipeline.DiskCache
	var key pipeline.Digest
	if useCache {
		if cacheDir != "" {
			cache, err = pipeline.OpenDiskCacheAt(cacheDir)
		} else {
			cache, err = pipeline.OpenDiskCache("smelt")
		}
		if err != nil {
			return err
		}
		key = pipeline.CacheKey(moduleBytes, opts)
		if res, ok, err := cache.Get(key); err != nil {
			return err
		} else if ok {
			if err := writeArtifact(outputPath, res); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "compiled %s (cached)\n", outputPath)
			}
			return nil
		}
	}

	sigs := sig.NewRegistry()
	mod, bodies, err := wasmbin.ReadModule(moduleBytes, sigs)
	if err != nil {
		return err
	}

	if verbose {
		logger, logErr := zap.NewDevelopment()
		if logErr != nil {
			return logErr
		}
		defer func() { _ = logger.Sync() }()
		opts.Logger = logger
	}

	timer := observ.NewTimer()
	opts.Timer = timer

	var res *pipeline.Result
	if shouldUseTUI(uiModeValue) && mod.NumLocalFuncs() > 0 {
		res, err = runCompileWithUI(cmd.Context(), "smelt compile", mod, bodies, sigs, opts)
	} else {
		res, err = pipeline.Compile(cmd.Context(), mod, bodies, sigs, opts)
	}
	if timings {
		fmt.Fprint(os.Stderr, timer.Summary())
	}
	if err != nil {
		return err
	}

	if cache != nil {
		if err := cache.Put(key, res); err != nil {
			return err
		}
	}
	if err := writeArtifact(outputPath, res); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "compiled %s (%d functions, %d bytes of code)\n",
			outputPath, len(res.Funcs), len(res.Code))
	}
	return nil
}

// resolveCompileOptions merges flag values over manifest defaults. A
// flag the user set always wins; otherwise a manifest [build] entry
// applies; otherwise the flag default stands.
func resolveCompileOptions(cmd *cobra.Command, manifest *projectManifest) (pipeline.Options, error) {
	var opts pipeline.Options

	targetValue, err := cmd.Flags().GetString("target")
	if err != nil {
		return opts, err
	}
	if !cmd.Flags().Changed("target") && manifest != nil && manifest.Config.Build.Target != "" {
		targetValue = manifest.Config.Build.Target
	}
	opts.Target, err = codegen.ParseTarget(targetValue)
	if err != nil {
		return opts, err
	}

	opts.Jobs, err = cmd.Flags().GetInt("jobs")
	if err != nil {
		return opts, err
	}
	if !cmd.Flags().Changed("jobs") && manifest != nil && manifest.Config.Build.Jobs > 0 {
		opts.Jobs = manifest.Config.Build.Jobs
	}

	boundsValue, err := cmd.Flags().GetString("bounds")
	if err != nil {
		return opts, err
	}
	if !cmd.Flags().Changed("bounds") && manifest != nil && manifest.Config.Build.Bounds != "" {
		boundsValue = manifest.Config.Build.Bounds
	}
	opts.Bounds, err = readBoundsPolicy(boundsValue)
	if err != nil {
		return opts, err
	}

	opts.Unwind, err = cmd.Flags().GetBool("unwind")
	if err != nil {
		return opts, err
	}
	if !cmd.Flags().Changed("unwind") && manifest != nil && manifest.Config.Build.Unwind != nil {
		opts.Unwind = *manifest.Config.Build.Unwind
	}

	opts.MaxDiagnostics, err = cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return opts, err
	}
	return opts, nil
}

func resolveOutputPath(cmd *cobra.Command, inputPath string, manifest *projectManifest, manifestFound bool) (string, error) {
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return "", err
	}
	if out != "" {
		return out, nil
	}
	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if manifestFound && manifest.Config.Package.Name != "" {
		name = manifest.Config.Package.Name
	}
	dir := filepath.Dir(inputPath)
	if manifestFound && manifest.Config.Build.OutDir != "" {
		dir = filepath.Join(manifest.Root, filepath.FromSlash(manifest.Config.Build.OutDir))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, name+artifactExt), nil
}

func readBoundsPolicy(value string) (translate.BoundsPolicy, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "explicit":
		return translate.BoundsExplicit, nil
	case "guard":
		return translate.BoundsGuardRegion, nil
	default:
		return 0, fmt.Errorf("invalid bounds policy %q (expected explicit|guard)", value)
	}
}

// writeArtifact writes the encoded result through a temp file and
// renames it into place, so a crashed compile never leaves a truncated
// artifact behind.
func writeArtifact(path string, res *pipeline.Result) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := res.Encode(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
