package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/braid-data/braid/internal/braid"
	"github.com/braid-data/braid/internal/braid/archive"
	"github.com/braid-data/braid/internal/braid/bundler"
	"github.com/braid-data/braid/internal/braid/config"
	"github.com/braid-data/braid/internal/braid/coord"
	"github.com/braid-data/braid/internal/braid/geom"
	"github.com/braid-data/braid/internal/braid/ingest"
	"github.com/braid-data/braid/internal/braid/metrics"
	"github.com/braid-data/braid/internal/braid/modelserver"
	"github.com/braid-data/braid/internal/braid/report"
	"github.com/braid-data/braid/internal/braid/triggerbox"
	"github.com/braid-data/braid/internal/version"
)

var (
	flagNoRecord bool
	flagOutDir   string

	flagPcap     string
	flagPcapPort int
	flagRealtime bool

	flagReportOut string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track live camera streams",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPipeline(ctx, cfg, "")
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Track camera packets from a pcap capture",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagPcap == "" {
			return fmt.Errorf("--pcap is required")
		}
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPipeline(ctx, cfg, flagPcap)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report ARCHIVE.braidz",
	Short: "Summarize a .braidz archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outDir := flagReportOut
		if outDir == "" {
			outDir = trimBraidzExt(args[0]) + "-report"
		}
		s, err := report.Generate(args[0], outDir)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d trajectories, %d raw detections, report in %s\n",
			args[0], len(s.Trajectories), s.Data2dRows, outDir)
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive maintenance commands",
}

var archiveMigrateCmd = &cobra.Command{
	Use:   "migrate DATABASE",
	Short: "Apply schema migrations to a session database",
	Long: `Apply any pending schema migrations to a session database.
DATABASE is the sqlite file of an unpacked session directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			path = filepath.Join(path, archive.DatabaseName)
		}
		db, err := archive.OpenDatabase(path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := archive.MigrateUp(db); err != nil {
			return err
		}
		fmt.Printf("%s: schema up to date\n", path)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "track without recording a .braidz session")
	runCmd.Flags().StringVar(&flagOutDir, "out", "", "override the configured output directory")

	replayCmd.Flags().StringVar(&flagPcap, "pcap", "", "pcap capture of camera packets")
	replayCmd.Flags().IntVar(&flagPcapPort, "port", 3442, "UDP destination port to replay")
	replayCmd.Flags().BoolVar(&flagRealtime, "realtime", false, "pace replay by capture timestamps")
	replayCmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "track without recording a .braidz session")
	replayCmd.Flags().StringVar(&flagOutDir, "out", "", "override the configured output directory")

	reportCmd.Flags().StringVar(&flagReportOut, "out", "", "report output directory (default: ARCHIVE-report)")

	archiveCmd.AddCommand(archiveMigrateCmd)
}

func trimBraidzExt(path string) string {
	if filepath.Ext(path) == ".braidz" {
		return path[:len(path)-len(".braidz")]
	}
	return path
}

// runPipeline wires the whole tracker: packet source, frame bundling,
// per-arena tracking, the archive writer, the live event stream and the
// status server. Shutdown flows through channel closure: canceling the
// context stops the packet source, which drains the bundler, the
// tracker and finally the writer.
func runPipeline(ctx context.Context, cfg *config.Config, pcapPath string) error {
	calData, err := os.ReadFile(cfg.Calibration)
	if err != nil {
		return fmt.Errorf("read calibration: %w", err)
	}
	cams, err := geom.ParseFlydraXML(bytes.NewReader(calData))
	if err != nil {
		return err
	}
	params := cfg.TrackingParams()

	// Cameras are declared up front so camera numbers and the archive
	// cam_info table are stable from the first frame.
	camMgr := coord.NewCameraManager()
	for _, cam := range cfg.Cameras {
		camMgr.Register(cam.Name)
	}

	collector := metrics.NewCollector()

	saves := make(chan braid.SaveToDiskMsg, coord.SaveChannelCapacity)
	writer := archive.StartWriter(archive.WriterConfig{
		CamInfo:        camMgr.InfoRows(),
		CalibrationXML: string(calData),
		TrackingParams: params,
		Observer:       collector,
	}, saves)

	srv := modelserver.New(256)
	go srv.Run()

	proc, err := coord.NewProcessor(coord.Config{
		Cams:   cams,
		Params: params,
		Arenas: cfg.ArenaConfig(),
		FPS:    cfg.FPS,
		Saves:  saves,
		Stats:  collector,
	})
	if err != nil {
		return err
	}
	proc.AddListener(srv.Channel())

	httpDone := startHTTP(ctx, cfg.ModelServerAddr, srv.Handler())
	statusDone := startHTTP(ctx, cfg.StatusAddr, collector.Mux())

	srcCtx, srcCancel := context.WithCancel(ctx)
	defer srcCancel()

	var wg sync.WaitGroup

	var trigger *triggerbox.Device
	if cfg.TriggerDevice != "" && pcapPath == "" {
		trigger = triggerbox.New(triggerbox.Config{
			Device:   cfg.TriggerDevice,
			BaudRate: cfg.TriggerBaudRate,
			Saves:    saves,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := trigger.Run(srcCtx); err != nil {
				braid.Logf("ERROR: trigger device: %v", err)
			}
		}()
	}

	fdps := make(chan braid.FrameDataAndPoints, 256)
	srcErr := make(chan error, 1)
	go func() {
		if pcapPath != "" {
			srcErr <- ingest.Replay(srcCtx, ingest.ReplayConfig{
				Path:     pcapPath,
				Port:     flagPcapPort,
				RealTime: flagRealtime,
				Cams:     camMgr,
				Stats:    collector,
				Out:      fdps,
			})
			return
		}
		l, err := ingest.NewListener(ingest.ListenerConfig{
			Address: cfg.Listen,
			RcvBuf:  cfg.RcvBuf,
			Cams:    camMgr,
			Stats:   collector,
			Out:     fdps,
		})
		if err != nil {
			close(fdps)
			srcErr <- err
			return
		}
		srcErr <- l.Run(srcCtx)
	}()

	bundles := make(chan bundler.FrameBundle, 4)
	go assembleFrames(srcCancel, camMgr, trigger, fdps, bundles)

	if !flagNoRecord {
		outDir := cfg.OutputDir
		if flagOutDir != "" {
			outDir = flagOutDir
		}
		session := filepath.Join(outDir, time.Now().Format("20060102_150405"))
		saves <- braid.StartSaving{Config: braid.StartSavingConfig{
			OutDir:      session,
			FPS:         cfg.FPS,
			GitRevision: version.GitSHA,
		}}
		saves <- braid.SetExperimentUUID{UUID: uuid.NewString()}
	}

	// The bundle channel closes once the packet source stops, so a
	// background context is correct here: shutdown still terminates the
	// stream, but in-flight frames are tracked rather than dropped.
	trackErr := proc.ConsumeStream(context.Background(), bundles)

	wg.Wait()
	close(saves)
	writeErr := writer.Wait()
	<-httpDone
	<-statusDone

	if err := <-srcErr; err != nil {
		return err
	}
	if trackErr != nil {
		return trackErr
	}
	return writeErr
}

// assembleFrames turns the per-camera packet stream into a contiguous
// bundle stream, stamping each frame with its reconstructed trigger
// time.
func assembleFrames(cancel context.CancelFunc, camMgr *coord.CameraManager,
	trigger *triggerbox.Device, fdps <-chan braid.FrameDataAndPoints,
	bundles chan<- bundler.FrameBundle) {
	defer close(bundles)

	bun := bundler.New(camMgr.NumConnected)
	var contig bundler.Contiguous
	forward := func(fb bundler.FrameBundle) bool {
		filled, err := contig.Fill(fb)
		if err != nil {
			braid.Logf("ERROR: %v; stopping stream", err)
			cancel()
			return false
		}
		for _, f := range filled {
			bundles <- f
		}
		return true
	}

	for fdp := range fdps {
		if trigger != nil {
			fdp.FrameData.TriggerTimestamp = trigger.TriggerTimestamp(fdp.FrameData.SyncedFrame)
		}
		for _, fb := range bun.Push(fdp) {
			if !forward(fb) {
				// Keep draining so the packet source can exit.
				for range fdps {
				}
				return
			}
		}
	}
	if fb := bun.Flush(); fb != nil {
		forward(*fb)
	}
}

// startHTTP serves handler on addr until the context is canceled. The
// returned channel closes once the server has shut down.
func startHTTP(ctx context.Context, addr string, handler http.Handler) <-chan struct{} {
	done := make(chan struct{})
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		defer close(done)
		errs := make(chan error, 1)
		go func() { errs <- srv.ListenAndServe() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		case err := <-errs:
			if err != nil && err != http.ErrServerClosed {
				braid.Logf("ERROR: http server on %s: %v", addr, err)
			}
		}
	}()
	return done
}
