package main

import (
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	upocr "github.com/xf0e/up-ocr-client"
)

// This assumes that there is a rabbit mq running and an OCR backend reachable
// To test it, publish a job like {"image_path":"/tmp/receipt.jpg","target":"text"}
// with a reply_to queue to the ocr-batch routing key

func init() {
	zerolog.TimeFieldFormat = time.StampMilli
	// Default level is info, unless debug flag is present
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Str("component", "OCR_WORKER").Msg("no .env file found, using environment variables")
	}

	var (
		debug       bool
		clientKind  string
		metricsPort uint
	)
	rabbitConfig := upocr.DefaultRabbitConfig()
	flagFunc := func() {
		flag.BoolVar(&debug, "debug", false, "sets debug flag, program will print more messages")
		flag.StringVar(&clientKind, "client", "ocr", "backend client: ocr or extractor")
		flag.UintVar(&metricsPort, "metrics_port", 9102, "port serving /metrics, 0 disables it")
		upocr.RabbitFlags(flag.CommandLine, &rabbitConfig)
	}

	clientConfig, err := upocr.DefaultConfigFlagsOverride(flagFunc)
	if err != nil {
		log.Fatal().Err(err).Str("component", "OCR_WORKER").Msg("error getting arguments")
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var client *upocr.Client
	switch clientKind {
	case "extractor":
		client, err = upocr.NewExtractor(clientConfig)
	default:
		client, err = upocr.NewOCR(clientConfig)
	}
	if err != nil {
		log.Fatal().Err(err).Str("component", "OCR_WORKER").Msg("could not create client")
	}
	log.Debug().Str("schema", client.Config().Schema.String()).Str("policy", client.Config().Policy.String()).
		Msg("client configured")

	if err := upocr.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Str("component", "OCR_WORKER").Msg("could not register metrics")
	}
	if metricsPort > 0 {
		go func() {
			listenAddr := fmt.Sprintf(":%d", metricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Info().Str("component", "OCR_WORKER").Str("listenAddr", listenAddr).Msg("serving metrics")
			if err := http.ListenAndServe(listenAddr, mux); err != nil {
				log.Error().Err(err).Str("component", "OCR_WORKER").Msg("metrics listener failed")
			}
		}()
	}

	// infinite loop, since sometimes worker <-> rabbitmq connection
	// gets broken
	for {
		log.Info().Str("component", "OCR_WORKER").Msg("Creating new batch worker")

		worker := upocr.NewBatchWorker(rabbitConfig, client, log.Logger)
		if err := worker.Run(); err != nil {
			log.Error().Err(err).Str("component", "OCR_WORKER").Msg("error running worker, retrying in 5s")
			time.Sleep(5 * time.Second)
			continue
		}

		// this happens when connection is closed
		err = <-worker.Done
		log.Error().Str("component", "OCR_WORKER").Err(err).Msg("batch worker failed with error")
	}
}
