package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/havenhealth/eligibility-app/conf"
	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/constants"
	"github.com/havenhealth/eligibility-app/eligibility/database"
	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/ingest"
	"github.com/havenhealth/eligibility-app/eligibility/models/postgres"
	"github.com/havenhealth/eligibility-app/eligibility/orgconfig"
	"github.com/havenhealth/eligibility-app/eligibility/persist"
	"github.com/havenhealth/eligibility-app/eligibility/pubsub"
	"github.com/havenhealth/eligibility-app/eligibility/transform"
	"github.com/havenhealth/eligibility-app/eligibility/utils"
	"github.com/havenhealth/eligibility-app/eligibility/worker"
	"github.com/havenhealth/eligibility-app/log"
)

const Name = "eligibilityworker"
const Usage = "Haven Health Eligibility Worker CLI"

var db *sql.DB

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	var stages string
	app.Before = func(c *cli.Context) error {
		db = database.Connection()
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "start-worker",
			Usage: "Start the pipeline stage consumers",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "stages",
					Usage:       "Comma-separated stages to run (ingest, transform, persist)",
					Value:       "ingest,transform,persist",
					Destination: &stages,
				},
			},
			Action: func(c *cli.Context) error {
				fmt.Fprintf(app.Writer, "Starting %s...\n", Name)
				return startWorker(stages)
			},
		},
		{
			Name:  "health",
			Usage: "Check the worker health",
			Action: func(c *cli.Context) error {
				if err := checkHealth(); err != nil {
					return cli.NewExitError(fmt.Sprintf("Worker is unhealthy: %s", err), 1)
				}
				return nil
			},
		},
	}
	return app
}

func startWorker(stages string) error {
	consumers, err := buildConsumers(stages)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForSig(cancel)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func buildConsumers(stages string) ([]*worker.Consumer, error) {
	repo := postgres.NewRepository(db)
	flags := featureflag.NewFromEnv()
	counters := cache.NewRedisCounterStore(redisClient())
	sess := session.Must(session.NewSession())

	var consumers []*worker.Consumer
	for _, stage := range strings.Split(stages, ",") {
		stage = strings.TrimSpace(stage)
		switch stage {
		case "ingest":
			uploads, err := pubsub.NewSQSQueue(sess, conf.GetEnv("ELIGIBILITY_UPLOAD_QUEUE"), constants.IngestMessageTimeoutSeconds)
			if err != nil {
				return nil, err
			}
			unprocessed, err := pubsub.NewSQSQueue(sess, conf.GetEnv("ELIGIBILITY_UNPROCESSED_QUEUE"), constants.IngestMessageTimeoutSeconds)
			if err != nil {
				return nil, err
			}
			svc := &ingest.Service{
				Files:    repo,
				Orgs:     orgconfig.New(repo, log.Ingest),
				Fetcher:  ingest.NewS3Fetcher(sess, conf.GetEnv("ELIGIBILITY_UPLOAD_BUCKET"), log.Ingest),
				Queue:    unprocessed,
				Counters: counters,
				Flags:    flags,
				Logger:   log.Ingest,
			}
			consumers = append(consumers, &worker.Consumer{
				Name:      "ingest",
				Queue:     uploads,
				Handler:   &worker.IngestStage{Ingest: svc, Logger: log.Ingest},
				BatchSize: 1,
				Logger:    log.Ingest,
			})
		case "transform":
			unprocessed, err := pubsub.NewSQSQueue(sess, conf.GetEnv("ELIGIBILITY_UNPROCESSED_QUEUE"), constants.IngestMessageTimeoutSeconds)
			if err != nil {
				return nil, err
			}
			processed, err := pubsub.NewSQSQueue(sess, conf.GetEnv("ELIGIBILITY_PROCESSED_QUEUE"), constants.PersistBatchTimeoutSeconds)
			if err != nil {
				return nil, err
			}
			svc := transform.New(orgconfig.New(repo, log.Transform), flags, log.Transform)
			consumers = append(consumers, &worker.Consumer{
				Name:      "transform",
				Queue:     unprocessed,
				Handler:   &worker.TransformStage{Transform: svc, Out: processed, Logger: log.Transform},
				BatchSize: utils.GetEnvInt("ELIGIBILITY_TRANSFORM_BATCH_SIZE", 10),
				Logger:    log.Transform,
			})
		case "persist":
			processed, err := pubsub.NewSQSQueue(sess, conf.GetEnv("ELIGIBILITY_PROCESSED_QUEUE"), constants.PersistBatchTimeoutSeconds)
			if err != nil {
				return nil, err
			}
			svc := persist.New(repo, repo, repo, counters, flags, log.Persist)
			consumers = append(consumers, &worker.Consumer{
				Name:      "persist",
				Queue:     processed,
				Handler:   &worker.PersistStage{Persist: svc, Logger: log.Persist},
				BatchSize: utils.GetEnvInt("ELIGIBILITY_PERSIST_BATCH_SIZE", 10),
				Logger:    log.Persist,
			})
		default:
			return nil, errors.Errorf("unknown stage %q", stage)
		}
	}
	return consumers, nil
}

func redisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.GetEnv("REDIS_ADDRESS"),
		Password: conf.GetEnv("REDIS_PASSWORD"),
	})
}

func checkHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database unreachable")
	}
	if err := redisClient().Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis unreachable")
	}
	return nil
}

func waitForSig(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	s := <-signalChan
	fmt.Printf("received %s, shutting down\n", s)
	cancel()
}
