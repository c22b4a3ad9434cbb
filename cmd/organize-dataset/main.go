package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"brainage-api/internal/dataset"
	"brainage-api/internal/logger"
)

func main() {
	_ = godotenv.Load()

	csvPath := flag.String("csv", "IXI.csv", "Subject table with IXI_ID and AGE columns")
	slicesDir := flag.String("slices", "image_slice_T1", "Directory with one slice folder per subject")
	datasetDir := flag.String("out", "dataset", "Output directory for the labelled dataset")
	verbose := flag.Bool("v", false, "Log every organized subject")
	flag.Parse()

	level := os.Getenv("LOG_LEVEL")
	if *verbose {
		level = "DEBUG"
	}
	logger.Initialize(logger.Options{Level: level, Format: os.Getenv("LOG_FORMAT")})
	log := logger.WithComponent("organize-dataset")

	report, err := dataset.Organize(dataset.Options{
		CSVPath:    *csvPath,
		SlicesDir:  *slicesDir,
		DatasetDir: *datasetDir,
	})
	if report != nil {
		for _, w := range report.Warnings {
			log.Warn(w)
		}
	}
	if err != nil {
		log.WithError(err).Fatal("organize dataset failed")
	}

	fields := logrus.Fields{
		"subjects": report.Subjects,
		"copied":   report.Copied,
		"warnings": len(report.Warnings),
	}
	for _, b := range dataset.Bands {
		fields[b.Label] = report.PerLabel[b.Label]
	}
	log.WithFields(fields).Info("dataset organized and images renamed by chronological age")
}
