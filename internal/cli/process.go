package cli

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rcliao/watchpost/internal/api"
	"github.com/rcliao/watchpost/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Identify the people in one frame",
		Long: "Run one image and its detections through the recognition pipeline, store the " +
			"resulting events and print the resolved detections. Detections are a JSON array " +
			"read from --detections or stdin.",
		Run: runProcess,
	}

	cmd.Flags().StringP("image", "i", "", "JPEG or PNG frame (required)")
	cmd.Flags().String("detections", "", "Detections JSON file (default: stdin)")
	cmd.Flags().String("camera", "", "Camera name (default: the first configured camera)")
	cmd.MarkFlagRequired("image")

	RootCmd.AddCommand(cmd)
}

func runProcess(cmd *cobra.Command, args []string) {
	imagePath, _ := cmd.Flags().GetString("image")
	detPath, _ := cmd.Flags().GetString("detections")
	camera, _ := cmd.Flags().GetString("camera")

	frame, err := decodeImageFile(imagePath)
	if err != nil {
		exitErr("read image", err)
	}
	dets, err := readDetections(detPath)
	if err != nil {
		exitErr("read detections", err)
	}

	if camera == "" {
		camera = getConfig().Pipeline.Cameras[0]
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		exitErr("start", err)
	}
	defer e.Close()

	p, ok := e.pipelines[camera]
	if !ok {
		exitErr("camera", fmt.Errorf("unknown camera %q", camera))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.worker.Serve(ctx)
	}()

	events := p.ProcessFrame(ctx, frame, dets)

	// Cancel to make the worker drain the queue before the store closes.
	cancel()
	<-done

	if events == nil {
		events = []model.Event{}
	}
	printJSON(api.FrameResponse{Camera: camera, Detections: dets, Events: events})
}

func decodeImageFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func readDetections(path string) ([]model.Detection, error) {
	var r io.Reader = os.Stdin
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var dets []model.Detection
	if err := json.Unmarshal(data, &dets); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return dets, nil
}
