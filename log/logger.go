package log

import (
	"os"
	"path/filepath"

	"github.com/havenhealth/eligibility-app/conf"
	"github.com/sirupsen/logrus"
)

var (
	Ingest    logrus.FieldLogger
	Transform logrus.FieldLogger
	Persist   logrus.FieldLogger
	Query     logrus.FieldLogger

	Worker logrus.FieldLogger
)

func init() {
	Ingest = Logger(logrus.New(), conf.GetEnv("ELIGIBILITY_INGEST_LOG"),
		"ingest", conf.GetEnv("ENVIRONMENT"))
	Transform = Logger(logrus.New(), conf.GetEnv("ELIGIBILITY_TRANSFORM_LOG"),
		"transform", conf.GetEnv("ENVIRONMENT"))
	Persist = Logger(logrus.New(), conf.GetEnv("ELIGIBILITY_PERSIST_LOG"),
		"persist", conf.GetEnv("ENVIRONMENT"))
	Query = Logger(logrus.New(), conf.GetEnv("ELIGIBILITY_QUERY_LOG"),
		"query", conf.GetEnv("ENVIRONMENT"))

	Worker = Logger(logrus.New(), conf.GetEnv("ELIGIBILITY_WORKER_LOG"),
		"worker", conf.GetEnv("ENVIRONMENT"))
}

func Logger(logger *logrus.Logger, outputFile string,
	application, environment string) logrus.FieldLogger {

	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000000Z07:00"})

	if outputFile != "" {
		if file, err := os.OpenFile(filepath.Clean(outputFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			logger.SetOutput(file)
		} else {
			logger.Infof("Failed to open output file %s. Will use stderr. %s",
				outputFile, err.Error())
		}
	}

	return logger.WithFields(logrus.Fields{
		"application": application,
		"environment": environment})
}
