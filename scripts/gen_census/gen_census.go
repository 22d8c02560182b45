// Command gen_census writes a synthetic census file for load testing the
// ingestion pipeline, optionally uploading it to the census bucket.
package main

import (
	"bytes"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

var firstNames = []string{"Ada", "Grace", "Alan", "Edsger", "Barbara", "Donald", "Radia", "Ken"}
var lastNames = []string{"Lovelace", "Hopper", "Turing", "Dijkstra", "Liskov", "Knuth", "Perlman", "Thompson"}
var states = []string{"NY", "CA", "TX", "WA", "MA", "IL"}

func main() {
	rows := flag.Int("rows", 100000, "number of census rows to generate")
	directory := flag.String("directory", "clienta", "upload directory (organization)")
	bucket := flag.String("bucket", "", "S3 bucket to upload to; omit to write locally")
	out := flag.String("out", "census.csv", "local output path when no bucket is given")
	flag.Parse()

	name := fmt.Sprintf("%s/census_%s.csv", *directory, time.Now().Format("20060102150405"))
	data, err := generate(*rows)
	if err != nil {
		log.Fatal(err)
	}

	if *bucket == "" {
		if err := os.WriteFile(*out, data, 0600); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %d rows to %s\n", *rows, *out)
		return
	}

	sess := session.Must(session.NewSession())
	uploader := s3manager.NewUploader(sess)
	result, err := uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(*bucket),
		Key:    aws.String(name),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("uploaded %d rows to %s\n", *rows, result.Location)
}

func generate(rows int) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"first_name", "last_name", "email", "date_of_birth", "unique_corp_id", "dependent_id", "work_state"}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < rows; i++ {
		first := firstNames[r.Intn(len(firstNames))]
		last := lastNames[r.Intn(len(lastNames))]
		dob := time.Date(1950+r.Intn(55), time.Month(1+r.Intn(12)), 1+r.Intn(28), 0, 0, 0, 0, time.UTC)
		record := []string{
			first,
			last,
			fmt.Sprintf("%s.%s%d@example.com", first, last, i),
			dob.Format("2006-01-02"),
			"E" + strconv.Itoa(100000+i),
			"",
			states[r.Intn(len(states))],
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
