package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli"

	"github.com/havenhealth/eligibility-app/conf"
	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/database"
	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/models/postgres"
	"github.com/havenhealth/eligibility-app/eligibility/orgconfig"
	"github.com/havenhealth/eligibility-app/eligibility/persist"
	"github.com/havenhealth/eligibility-app/eligibility/query"
	"github.com/havenhealth/eligibility-app/log"
)

// App name and usage. Edit them here to prevent breaking tests.
const Name = "eligibility"
const Usage = "Haven Health Eligibility CLI"

var db *sql.DB

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Before = func(c *cli.Context) error {
		db = database.Connection()
		return nil
	}
	var firstName, lastName, employeeFirstName, employeeLastName, email string
	var dateOfBirth, dependentDateOfBirth, workState, uniqueCorpID string
	var queryType, returnMode string
	var fileID int64
	var fileIDs, fileActions string
	app.Commands = []cli.Command{
		{
			Name:     "check-eligibility",
			Category: "Eligibility tools",
			Usage:    "Resolve a person to an eligible member record",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "first-name", Destination: &firstName},
				cli.StringFlag{Name: "last-name", Destination: &lastName},
				cli.StringFlag{Name: "employee-first-name", Destination: &employeeFirstName},
				cli.StringFlag{Name: "employee-last-name", Destination: &employeeLastName},
				cli.StringFlag{Name: "email", Destination: &email},
				cli.StringFlag{Name: "date-of-birth", Destination: &dateOfBirth},
				cli.StringFlag{Name: "dependent-date-of-birth", Destination: &dependentDateOfBirth},
				cli.StringFlag{Name: "work-state", Destination: &workState},
				cli.StringFlag{Name: "unique-corp-id", Destination: &uniqueCorpID},
				cli.StringFlag{Name: "query-type", Value: string(query.QueryTypeBasic), Destination: &queryType},
				cli.StringFlag{Name: "return-mode", Value: "single", Destination: &returnMode},
			},
			Action: func(c *cli.Context) error {
				mode, err := parseReturnMode(returnMode)
				if err != nil {
					return err
				}
				params := map[string]string{
					query.ParamFirstName:            firstName,
					query.ParamLastName:             lastName,
					query.ParamEmployeeFirstName:    employeeFirstName,
					query.ParamEmployeeLastName:     employeeLastName,
					query.ParamEmail:                email,
					query.ParamDateOfBirth:          dateOfBirth,
					query.ParamDependentDateOfBirth: dependentDateOfBirth,
					query.ParamWorkState:            workState,
					query.ParamUniqueCorpID:         uniqueCorpID,
				}
				result, err := checkEligibility(params, query.QueryType(queryType), mode)
				if err != nil {
					return err
				}
				encoded, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "%s\n", encoded)
				return nil
			},
		},
		{
			Name:     "file-actions",
			Category: "File tools",
			Usage:    "Apply review actions to a quarantined file",
			Flags: []cli.Flag{
				cli.Int64Flag{Name: "file-id", Destination: &fileID},
				cli.StringFlag{
					Name:        "actions",
					Usage:       "Comma-separated actions (clear_errors, persist_missing, persist_as_members, purge_all)",
					Destination: &fileActions,
				},
			},
			Action: func(c *cli.Context) error {
				svc := persistService()
				if err := svc.ProcessFileActions(context.Background(), fileID, splitList(fileActions)); err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "Actions applied to file %d\n", fileID)
				return nil
			},
		},
		{
			Name:     "bulk-file-actions",
			Category: "File tools",
			Usage:    "Apply review actions to multiple files concurrently",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "file-ids", Usage: "Comma-separated file ids", Destination: &fileIDs},
				cli.StringFlag{
					Name:        "actions",
					Usage:       "Comma-separated actions (clear_errors, persist_missing, persist_as_members, purge_all)",
					Destination: &fileActions,
				},
			},
			Action: func(c *cli.Context) error {
				ids, err := parseFileIDs(fileIDs)
				if err != nil {
					return err
				}
				svc := persistService()
				results := svc.BulkFileActions(context.Background(), ids, splitList(fileActions))
				failed := 0
				for _, result := range results {
					if result.Err != nil {
						failed++
						fmt.Fprintf(app.Writer, "file %d: %s\n", result.FileID, result.Err)
						continue
					}
					fmt.Fprintf(app.Writer, "file %d: ok\n", result.FileID)
				}
				if failed > 0 {
					return cli.NewExitError(fmt.Sprintf("%d of %d files failed", failed, len(results)), 1)
				}
				return nil
			},
		},
		{
			Name:     "incomplete-files",
			Category: "File tools",
			Usage:    "List files with staging rows still pending review",
			Action: func(c *cli.Context) error {
				repo := postgres.NewRepository(db)
				files, err := repo.GetIncompleteFiles(context.Background())
				if err != nil {
					return err
				}
				for _, f := range files {
					fmt.Fprintf(app.Writer, "%d\t%d\t%s\n", f.ID, f.OrganizationID, f.Name)
				}
				return nil
			},
		},
	}
	return app
}

func checkEligibility(params map[string]string, queryType query.QueryType, mode query.ReturnMode) (*query.Result, error) {
	repo := postgres.NewRepository(db)
	engine := &query.Engine{
		Querier: repo,
		Orgs:    orgconfig.New(repo, log.Query),
		Flags:   featureflag.NewFromEnv(),
		Logger:  log.Query,
	}
	return engine.PerformEligibilityCheck(context.Background(), params, queryType, mode)
}

func persistService() *persist.Service {
	repo := postgres.NewRepository(db)
	counters := cache.NewRedisCounterStore(redis.NewClient(&redis.Options{
		Addr:     conf.GetEnv("REDIS_ADDRESS"),
		Password: conf.GetEnv("REDIS_PASSWORD"),
	}))
	return persist.New(repo, repo, repo, counters, featureflag.NewFromEnv(), log.Persist)
}

func parseReturnMode(mode string) (query.ReturnMode, error) {
	switch strings.TrimSpace(mode) {
	case "single", "":
		return query.ReturnSingle, nil
	case "list":
		return query.ReturnList, nil
	case "single-from-list":
		return query.ReturnSingleFromList, nil
	}
	return 0, errors.Errorf("unknown return mode %q", mode)
}

func parseFileIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(raw) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid file id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("file ids (--file-ids) must be provided")
	}
	return ids, nil
}

func splitList(raw string) []string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
