package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	upocr "github.com/xf0e/up-ocr-client"
)

// Usage: cli-ocr [flags] <image path | base64 | data URI>
// The shaped result is printed to stdout as JSON, logs go to stderr.

func init() {
	zerolog.TimeFieldFormat = time.StampMilli
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "CLI_OCR").Msg("no .env file found, using environment variables")
	}

	var (
		debug      bool
		clientKind string
		target     string
		threshold  float64
		batch      bool
	)
	rabbitConfig := upocr.DefaultRabbitConfig()
	flagFunc := func() {
		flag.BoolVar(&batch, "batch", false, "hand the image to a batch worker over amqp instead of calling the backend")
		upocr.RabbitFlags(flag.CommandLine, &rabbitConfig)
		flag.BoolVar(&debug, "debug", false, "sets debug flag, program will print more messages")
		flag.StringVar(&clientKind, "client", "ocr", "backend client: ocr or extractor")
		flag.StringVar(&target, "target", "", "output: text, text_with_coords, or empty for the full payload")
		flag.Float64Var(&threshold, "threshold", -1, "minimum confidence in [0,1], default depends on the client")
	}

	clientConfig, err := upocr.DefaultConfigFlagsOverride(flagFunc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <image path | base64 | data URI>\n", os.Args[0])
		flag.PrintDefaults()
		return 2
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		clientConfig.LogLevel = "DEBUG"
	}
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	clientConfig.Logger = &logger

	if batch {
		return runBatch(rabbitConfig, logger, flag.Arg(0), target, threshold)
	}

	var client *upocr.Client
	switch clientKind {
	case "extractor":
		client, err = upocr.NewExtractor(clientConfig)
	default:
		client, err = upocr.NewOCR(clientConfig)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	opts := []upocr.RequestOption{upocr.WithTarget(upocr.ParseTarget(target)), upocr.WithEnvConfidenceThreshold()}
	if threshold >= 0 {
		opts = append(opts, upocr.WithConfidenceThreshold(threshold))
	}

	result, err := client.Request(upocr.ImageFromString(flag.Arg(0)), opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if result == nil {
		// permissive client, reason is in the log
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

// runBatch publishes the image as a job. A local file travels inline as base64,
// the worker may not share our filesystem.
func runBatch(rabbitConfig upocr.RabbitConfig, logger zerolog.Logger, image string, target string, threshold float64) int {
	job := upocr.BatchJob{Target: upocr.ParseTarget(target)}
	if upocr.ImageFromString(image).Kind() == upocr.ImageKindPath {
		data, err := upocr.Normalize(upocr.ImageFromPath(image))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		job.ImageBase64 = base64.StdEncoding.EncodeToString(data)
	} else {
		job.ImageBase64 = image
	}
	if threshold >= 0 {
		job.ConfidenceThreshold = &threshold
	}

	reply, err := upocr.NewBatchClient(rabbitConfig, logger).Submit(job, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if reply.Status != upocr.BatchStatusDone {
		fmt.Fprintf(os.Stderr, "Error: job %s %s: %s\n", reply.RequestID, reply.Status, reply.Error)
		return 1
	}
	fmt.Println(string(reply.Result))
	return 0
}
