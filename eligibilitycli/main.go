package main

import (
	"os"

	"github.com/havenhealth/eligibility-app/log"
)

func main() {
	app := GetApp()
	if err := app.Run(os.Args); err != nil {
		log.Query.Fatal(err)
	}
}
