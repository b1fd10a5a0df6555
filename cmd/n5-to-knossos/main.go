// Command-line program that converts a 3d volume in an N5 or Zarr container into a stack
// of image slices, then runs knossos_cuber on the stack.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/janelia-flyem/n5knossos/core"
	"github.com/janelia-flyem/n5knossos/cuber"
	"github.com/janelia-flyem/n5knossos/server"
	"github.com/janelia-flyem/n5knossos/stack"
	"github.com/janelia-flyem/n5knossos/storage"

	_ "github.com/janelia-flyem/n5knossos/storage/n5"
	_ "github.com/janelia-flyem/n5knossos/storage/zarr"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// TOML settings file.  Flags override its values.
	settingsFile = flag.String("settings", "", "")

	container  = flag.String("n5", "", "")
	dataset    = flag.String("dset", "", "")
	engine     = flag.String("engine", "", "")
	cacheMB    = flag.Int("cache", 0, "")
	sliceDir   = flag.String("png", "", "")
	chunkSize  = flag.Int("chunk_size", stack.DefaultChunkSize, "")
	workers    = flag.Int("workers", 0, "")
	retries    = flag.Int("retries", stack.DefaultRetries, "")
	format     = flag.String("format", "png", "")
	sequential = flag.Bool("sequential", false, "")
	dryRun     = flag.Bool("dryrun", false, "")
	cubeDir    = flag.String("knossos", "", "")
	cuberConf  = flag.String("config", "", "")
	cuberBin   = flag.String("cuber", cuber.DefaultBinary, "")
	skipCuber  = flag.Bool("skip-cuber", false, "")
	strict     = flag.Bool("strict", false, "")
	httpAddr   = flag.String("http", "", "")
	logfile    = flag.String("logfile", "", "")
)

const helpMessage = `
n5-to-knossos converts a 3d volume into a stack of image slices and then into KNOSSOS
cubes using knossos_cuber.

Usage: n5-to-knossos [options]

      -n5         =string   Container path or gs:// or s3:// reference.
      -dset       =string   Dataset (N5) or array (Zarr) path within the container.
      -png        =string   Directory for the image slices.
      -knossos    =string   Output directory for KNOSSOS cubes.
      -config     =string   knossos_cuber configuration file.
      -chunk_size =number   Number of z slices read at once (default 500).

      -settings   =string   TOML settings file; explicitly set flags take precedence.
      -engine     =string   Container format (n5, zarr).  Detected if not given.
      -cache      =number   MB of decoded block cache shared by all chunks.
      -format     =string   Slice image format: png or tif.
      -workers    =number   Maximum chunks processed at once; 0 for one per chunk.
      -sequential (flag)    Process chunks one at a time.
      -retries    =number   Write attempts per slice before a zero placeholder (default 10).
      -dryrun     (flag)    Log what would be done without reading or writing.
      -cuber      =string   knossos_cuber executable.
      -skip-cuber (flag)    Only write the image slices.
      -strict     (flag)    Fail if knossos_cuber fails.
      -http       =string   Address for a status server, e.g., localhost:8000.
      -logfile    =string   Log to this file instead of stderr.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

  Any flag may also be given with a double dash, e.g., --n5.
`

var usage = func() {
	fmt.Printf(helpMessage)
	fmt.Printf("\nAvailable container engines:\n%s\n\n", storage.EnginesAvailable())
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if err := checkArgs(flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	if *runVerbose {
		core.Verbose = true
		core.SetLogMode(core.DebugMode)
	}

	settings, err := server.LoadSettings(*settingsFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	applyFlags(settings)
	if err := validate(settings); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	settings.Logging.SetLogger()

	// Capture ctrl+c and other interrupts and cancel the conversion.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = convert(ctx, settings)
	stop()
	if err != nil {
		core.Criticalf("%v\n", err)
		core.Shutdown()
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	core.Shutdown()
}

// applyFlags copies explicitly set flags, and defaults for settings not in the TOML file,
// into the settings.
func applyFlags(s *server.Settings) {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	setString := func(name string, dst *string, val string) {
		if set[name] || *dst == "" {
			*dst = val
		}
	}
	setInt := func(name string, dst *int, val int) {
		if set[name] || *dst == 0 {
			*dst = val
		}
	}
	setBool := func(name string, dst *bool, val bool) {
		if set[name] {
			*dst = val
		}
	}
	setString("n5", &s.Source.Container, *container)
	setString("dset", &s.Source.Dataset, *dataset)
	setString("engine", &s.Source.Engine, *engine)
	setInt("cache", &s.Source.CacheMB, *cacheMB)
	setString("png", &s.Extract.Dir, *sliceDir)
	setInt("chunk_size", &s.Extract.ChunkSize, *chunkSize)
	setInt("workers", &s.Extract.Workers, *workers)
	setInt("retries", &s.Extract.Retries, *retries)
	setString("format", &s.Extract.Format, *format)
	setBool("sequential", &s.Extract.Sequential, *sequential)
	setBool("dryrun", &s.Extract.DryRun, *dryRun)
	setString("knossos", &s.Cuber.OutputDir, *cubeDir)
	setString("config", &s.Cuber.Config, *cuberConf)
	setString("cuber", &s.Cuber.Binary, *cuberBin)
	setBool("skip-cuber", &s.Cuber.Skip, *skipCuber)
	setBool("strict", &s.Cuber.Strict, *strict)
	setString("http", &s.Server.HTTPAddress, *httpAddr)
	setString("logfile", &s.Logging.Logfile, *logfile)
}

func validate(s *server.Settings) error {
	switch {
	case s.Source.Container == "":
		return fmt.Errorf("no container given; use -n5")
	case s.Source.Dataset == "":
		return fmt.Errorf("no dataset given; use -dset")
	case s.Extract.Dir == "":
		return fmt.Errorf("no slice directory given; use -png")
	case !s.Cuber.Skip && !s.Extract.DryRun && s.Cuber.OutputDir == "":
		return fmt.Errorf("no KNOSSOS output directory given; use -knossos or -skip-cuber")
	}
	return nil
}

// checkArgs rejects positional arguments; everything is given by flags or settings.
func checkArgs(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unexpected arguments %q; all options are given as flags", args)
	}
	return nil
}

// convert runs the slice extraction and then the cuber.
func convert(ctx context.Context, s *server.Settings) error {
	timedLog := core.NewTimeLog()

	progress := stack.NewProgress()
	svc := server.NewService(s, progress)
	if s.Server.HTTPAddress != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := svc.Serve(srvCtx, s.Server.HTTPAddress); err != nil {
				core.Errorf("%v\n", err)
			}
		}()
	}

	vol, err := storage.Open(ctx, s.Source.Container, s.Source.Dataset, storage.Options{
		Engine:     s.Source.Engine,
		CacheBytes: s.Source.CacheMB * core.Mega,
	})
	if err != nil {
		svc.SetStage(server.StageFailed)
		return err
	}
	defer vol.Close()

	imgFormat, err := core.GetImageFormat(s.Extract.Format)
	if err != nil {
		svc.SetStage(server.StageFailed)
		return err
	}
	extractor, err := stack.NewExtractor(vol, stack.Config{
		OutputDir:  s.Extract.Dir,
		ChunkSize:  s.Extract.ChunkSize,
		Workers:    s.Extract.Workers,
		Sequential: s.Extract.Sequential,
		Retries:    s.Extract.Retries,
		Format:     imgFormat,
		DryRun:     s.Extract.DryRun,
		Progress:   progress,
	})
	if err != nil {
		svc.SetStage(server.StageFailed)
		return err
	}

	svc.SetStage(server.StageExtracting)
	stats, err := extractor.Run(ctx)
	if err != nil {
		svc.SetStage(server.StageFailed)
		return fmt.Errorf("slice extraction failed: %w", err)
	}
	if stats.Placeholders > 0 {
		core.Warningf("%d slices could not be written and are zero placeholders\n", stats.Placeholders)
	}

	if !s.Cuber.Skip && !s.Extract.DryRun {
		svc.SetStage(server.StageCubing)
		_, err := cuber.Run(ctx, cuber.Config{
			Binary:     s.Cuber.Binary,
			Format:     imgFormat.Name(),
			ConfigPath: s.Cuber.Config,
			StackDir:   s.Extract.Dir,
			OutputDir:  s.Cuber.OutputDir,
			ExtraArgs:  s.Cuber.Args,
			Strict:     s.Cuber.Strict,
		})
		if err != nil {
			svc.SetStage(server.StageFailed)
			return err
		}
	}
	svc.SetStage(server.StageDone)
	timedLog.Infof("Converted %s %q", s.Source.Container, s.Source.Dataset)
	return nil
}
