package main

import (
	"flag"
	"fmt"

	"github.com/UnlikeOtherAI/steroids/internal/dbsql"
)

func cmdInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	project := fs.String("project", "", "path to the project repository")
	asJSON := fs.Bool("json", false, "emit a single JSON result object")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}
	if *project == "" {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids init: --project is required")))
	}

	if projectInitialized(*project) {
		return emit(*asJSON, func(interface{}) { fmt.Println("already initialized") }, map[string]interface{}{
			"project": *project,
			"status":  "already_initialized",
		}, nil)
	}

	db, err := dbsql.OpenProject(*project)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids init: %w", err)))
	}
	defer db.Close()

	return emit(*asJSON, func(interface{}) { fmt.Printf("initialized %s\n", *project) }, map[string]interface{}{
		"project": *project,
		"status":  "initialized",
	}, nil)
}
