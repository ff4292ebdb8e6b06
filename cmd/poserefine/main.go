// Package main is the poserefine command line driver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"go.viam.com/poserefine/config"
	"go.viam.com/poserefine/logging"
	"go.viam.com/poserefine/pipeline"
	"go.viam.com/poserefine/pointcloud"
	"go.viam.com/poserefine/rimage"
	"go.viam.com/poserefine/rimage/transform"
	"go.viam.com/poserefine/ros"
	"go.viam.com/poserefine/vision/segmentation"
)

const (
	// Flags.
	flagConfig       = "config"
	flagDebug        = "debug"
	flagLogFile      = "log-file"
	flagOutput       = "output"
	flagPoses        = "poses"
	flagGrids        = "grids"
	flagNoEntry      = "no-entry"
	flagBag          = "bag"
	flagPoseTopic    = "pose-topic"
	flagGridTopic    = "grid-topic"
	flagNoEntryTopic = "no-entry-topic"
	flagPlot         = "plot"
	flagHistogram    = "histogram"
	flagCloud        = "cloud"
	flagDepth        = "depth"
	flagLabels       = "labels"
	flagSummary      = "summary"
	flagIntrinsics   = "intrinsics"
)

func main() {
	app := &cli.App{
		Name:            "poserefine",
		Usage:           "refine 6-DoF object poses against occupancy grids",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     flagConfig,
				Aliases:  []string{"c"},
				Usage:    "load configuration from `FILE`",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write JSON logs to the rotated `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "refine",
				Usage:     "refine a pose array against target and no-entry grids",
				UsageText: "poserefine -c config.json refine (--poses FILE --grids FILE [--no-entry FILE] | --bag FILE)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagPoses, Usage: "pose array JSON `FILE`"},
					&cli.StringFlag{Name: flagGrids, Usage: "target grid array JSON `FILE`"},
					&cli.StringFlag{Name: flagNoEntry, Usage: "no-entry grid array JSON `FILE`"},
					&cli.StringFlag{Name: flagBag, Usage: "read synchronized messages from rosbag `FILE`"},
					&cli.StringFlag{Name: flagPoseTopic, Value: "/pose_estimation/poses", Usage: "pose array topic in the bag"},
					&cli.StringFlag{Name: flagGridTopic, Value: "/pose_estimation/grids", Usage: "target grid topic in the bag"},
					&cli.StringFlag{Name: flagNoEntryTopic, Value: "/pose_estimation/grids_noentry", Usage: "no-entry grid topic in the bag"},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write refined poses to `FILE` instead of stdout"},
					&cli.StringFlag{Name: flagPlot, Usage: "save the loss curve as a PNG `FILE`"},
					&cli.BoolFlag{Name: flagHistogram, Usage: "print a histogram of the pose corrections"},
				},
				Action: RefineAction,
			},
			{
				Name:      "register",
				Usage:     "register CAD models against a segmented scene",
				UsageText: "poserefine -c config.json register (--cloud FILE | --depth FILE) --labels FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagCloud, Usage: "organized scene cloud PCD `FILE`"},
					&cli.StringFlag{Name: flagDepth, Usage: "depth image `FILE`, projected with the configured intrinsics"},
					&cli.StringFlag{Name: flagIntrinsics, Usage: "camera intrinsics JSON `FILE`, overriding the configured ones"},
					&cli.StringFlag{Name: flagLabels, Usage: "instance label JSON `FILE`", Required: true},
					&cli.StringFlag{Name: flagOutput, Aliases: []string{"o"}, Usage: "write poses to `FILE` instead of stdout"},
					&cli.BoolFlag{Name: flagSummary, Usage: "print a summary table of the registrations"},
				},
				Action: RegisterAction,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Context) (logging.Logger, func() error) {
	level := logging.INFO
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	if path := c.String(flagLogFile); path != "" {
		logger, closer := logging.NewFileLogger("poserefine", path, level)
		return logger, closer.Close
	}
	if level == logging.DEBUG {
		return logging.NewDebugLogger("poserefine"), func() error { return nil }
	}
	return logging.NewLogger("poserefine"), func() error { return nil }
}

// newPipeline builds the pipeline of the configured run. The returned cleanup flushes the logs.
func newPipeline(c *cli.Context) (*pipeline.Pipeline, logging.Logger, func(), error) {
	logger, closeLog := newLogger(c)
	cleanup := func() {
		goutils.UncheckedError(logger.Sync())
		goutils.UncheckedError(closeLog())
	}
	cfg, err := config.Read(c.String(flagConfig), logger)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if cfg.Debug {
		logger.SetLevel(logging.DEBUG)
	}
	p, err := pipeline.NewFromConfig(cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	return p, logger, cleanup, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

// RefineAction is the corresponding Action for 'refine'.
func RefineAction(c *cli.Context) error {
	p, logger, cleanup, err := newPipeline(c)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx, cancel := signalContext(c)
	defer cancel()

	frames, err := loadFrames(c)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return errors.New("no complete pose and grid messages found")
	}

	out, closeOut, err := output(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(closeOut)

	enc := json.NewEncoder(out)
	var losses [][]float64
	var corrections []float64
	for _, frame := range frames {
		refined, err := p.RefinePoses(ctx, frame.Poses, frame.Grids, frame.NoEntry)
		if err != nil {
			return errors.Wrapf(err, "frame at %v", frame.Stamp.Time())
		}
		for _, res := range refined.Failed() {
			logger.Warnw("instance kept its input pose", "instance", res.InstanceID, "error", res.Err)
		}
		for _, res := range refined.Results {
			if res.Err == nil {
				corrections = append(corrections, res.Pose.Translation.Sub(res.Initial.Translation).Norm())
			}
		}
		losses = append(losses, refined.Losses)
		if err := enc.Encode(refined.Poses); err != nil {
			return err
		}
	}

	if path := c.String(flagPlot); path != "" {
		if err := saveLossPlot(path, losses); err != nil {
			return err
		}
	}
	if c.Bool(flagHistogram) {
		printHistogram(c.App.ErrWriter, "translation correction (m)", corrections)
	}
	return nil
}

func loadFrames(c *cli.Context) ([]ros.Frame, error) {
	if bag := c.String(flagBag); bag != "" {
		rb, err := ros.ReadBag(bag)
		if err != nil {
			return nil, err
		}
		poses, err := ros.TopicMessages[ros.ObjectPoseArray](rb, c.String(flagPoseTopic))
		if err != nil {
			return nil, err
		}
		grids, err := ros.TopicMessages[ros.VoxelGridArray](rb, c.String(flagGridTopic))
		if err != nil {
			return nil, err
		}
		noEntry, err := ros.TopicMessages[ros.VoxelGridArray](rb, c.String(flagNoEntryTopic))
		if err != nil {
			return nil, err
		}
		return ros.Synchronize(poses, grids, noEntry), nil
	}

	if c.String(flagPoses) == "" || c.String(flagGrids) == "" {
		return nil, errors.Errorf("either --%s or both --%s and --%s are required", flagBag, flagPoses, flagGrids)
	}
	var frame ros.Frame
	if err := readJSON(c.String(flagPoses), &frame.Poses); err != nil {
		return nil, err
	}
	if err := readJSON(c.String(flagGrids), &frame.Grids); err != nil {
		return nil, err
	}
	if path := c.String(flagNoEntry); path != "" {
		if err := readJSON(path, &frame.NoEntry); err != nil {
			return nil, err
		}
	}
	frame.Stamp = frame.Poses.Header.Stamp
	return []ros.Frame{frame}, nil
}

type registeredPose struct {
	InstanceID int32    `json:"instance_id"`
	ClassID    int      `json:"class_id"`
	Pose       ros.Pose `json:"pose"`
	Loss       float64  `json:"loss"`
	Coverage   float64  `json:"coverage"`
	Error      string   `json:"error,omitempty"`
}

// RegisterAction is the corresponding Action for 'register'.
func RegisterAction(c *cli.Context) error {
	p, _, cleanup, err := newPipeline(c)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx, cancel := signalContext(c)
	defer cancel()

	var cloud *pointcloud.Organized
	switch {
	case c.String(flagCloud) != "":
		if cloud, err = pointcloud.NewFromFile(c.String(flagCloud)); err != nil {
			return err
		}
	case c.String(flagDepth) != "":
		dm, err := rimage.ParseDepthMap(c.String(flagDepth))
		if err != nil {
			return err
		}
		scene := p.Config().Scene
		if path := c.String(flagIntrinsics); path != "" {
			if scene.Intrinsics, err = transform.NewPinholeCameraIntrinsicsFromJSONFile(path); err != nil {
				return err
			}
		}
		if cloud, err = scene.Intrinsics.DepthMapToPointCloud(dm, scene.DepthScale); err != nil {
			return err
		}
	default:
		return errors.Errorf("one of --%s or --%s is required", flagCloud, flagDepth)
	}

	var labels segmentation.InstanceLabels
	if err := readJSON(c.String(flagLabels), &labels); err != nil {
		return err
	}

	results, err := p.RegisterScene(ctx, cloud, &labels)
	if err != nil {
		return err
	}
	if c.Bool(flagSummary) {
		fmt.Fprintln(c.App.ErrWriter, results.String())
	}
	poses := make([]registeredPose, 0, len(results))
	for _, res := range results {
		rp := registeredPose{
			InstanceID: res.InstanceID,
			ClassID:    res.ClassID,
			Pose:       ros.PoseFromSpatial(res.Pose),
			Loss:       res.Loss.Loss,
			Coverage:   res.Coverage,
		}
		if res.Err != nil {
			rp.Error = res.Err.Error()
		}
		poses = append(poses, rp)
	}

	out, closeOut, err := output(c)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(closeOut)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(poses)
}

func readJSON(path string, v interface{}) error {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return errors.Wrapf(json.NewDecoder(f).Decode(v), "cannot decode %s", path)
}

func output(c *cli.Context) (io.Writer, func() error, error) {
	path := c.String(flagOutput)
	if path == "" {
		return c.App.Writer, func() error { return nil }, nil
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
