// Package batch runs detection over every image of a directory without the GUI
// and writes the annotated copies into a results directory.
package batch

import (
	"context"
	"fmt"

	"defectvision/internal/logging"
	"defectvision/processing/capture"
	processing "defectvision/processing/detector"

	"github.com/sirupsen/logrus"
)

type Summary struct {
	Processed int
	Failed    int
	Defects   int
}

type Options struct {
	InputDir   string
	ResultsDir string
	Confidence float32
}

// Run processes the images one at a time through runner. A failing image is
// logged and counted; it never stops the batch. Cancelling ctx stops before
// the next image.
func Run(ctx context.Context, runner *processing.Runner, opts Options) (Summary, error) {
	var sum Summary

	paths, err := capture.ListImages(opts.InputDir)
	if err != nil {
		return sum, err
	}
	logging.L().WithField("dir", opts.InputDir).Infof("found %d images", len(paths))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		log := logging.With(logrus.Fields{"image": path})

		img, err := capture.LoadImage(path)
		if err != nil {
			log.WithError(err).Warn("skipping unreadable image")
			sum.Failed++
			continue
		}

		done, err := runner.Submit(img, opts.Confidence)
		if err != nil {
			return sum, fmt.Errorf("submit %s: %w", path, err)
		}
		res := <-done

		out := capture.ResultPath(path, opts.ResultsDir)
		if err := capture.SaveImage(out, res.Annotated); err != nil {
			log.WithError(err).Error("failed to save result")
			sum.Failed++
			continue
		}

		if res.Failed() {
			sum.Failed++
			continue
		}
		sum.Processed++
		sum.Defects += res.DefectCount
		log.WithField("defects", res.DefectCount).WithField("output", out).Info("image inspected")
	}

	return sum, nil
}
