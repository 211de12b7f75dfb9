package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/UnlikeOtherAI/steroids/internal/dbsql"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// cmdIncidents is the operator surface for the credit-exhaustion incident
// lifecycle named in §7 ("Resolution = config change, user dismissal, or
// explicit retry"): list what's pausing a runner, then clear it.
func cmdIncidents(args []string) int {
	if len(args) == 0 {
		fmt.Println("usage: steroids incidents <list|resolve> ...")
		return exitGeneralError
	}
	switch args[0] {
	case "list":
		return cmdIncidentsList(args[1:])
	case "resolve":
		return cmdIncidentsResolve(args[1:])
	default:
		fmt.Printf("steroids incidents: unknown subcommand %q\n", args[0])
		return exitGeneralError
	}
}

func cmdIncidentsList(args []string) int {
	fs := flag.NewFlagSet("incidents list", flag.ContinueOnError)
	projectPath := fs.String("project", "", "restrict to incidents for this project's runners")
	asJSON := fs.Bool("json", false, "emit a single JSON result object")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}

	home, err := defaultHomeDir()
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(err))
	}
	gdb, err := dbsql.OpenGlobal(home)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids incidents list: %w", err)))
	}
	defer gdb.Close()
	global := store.NewGlobalStore(gdb)

	var filter *string
	if *projectPath != "" {
		filter = projectPath
	}
	incidents, err := global.GetActiveCreditIncidents(context.Background(), filter)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids incidents list: %w", err)))
	}

	return emit(*asJSON, func(interface{}) {
		if len(incidents) == 0 {
			fmt.Println("no active credit incidents")
			return
		}
		for _, inc := range incidents {
			fmt.Printf("%s\tprovider=%s\tmodel=%s\trole=%s\tdetected=%s\n", inc.ID, strVal(inc.Provider), strVal(inc.Model), strVal(inc.Role), inc.DetectedAt.Format("2006-01-02T15:04:05Z"))
		}
	}, incidents, nil)
}

func cmdIncidentsResolve(args []string) int {
	fs := flag.NewFlagSet("incidents resolve", flag.ContinueOnError)
	resolution := fs.String("resolution", "dismissed", "dismissed|retry|config_changed|manual")
	asJSON := fs.Bool("json", false, "emit a single JSON result object")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}
	if fs.NArg() != 1 {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids incidents resolve: expected exactly one incident id argument")))
	}
	id := fs.Arg(0)

	home, err := defaultHomeDir()
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(err))
	}
	gdb, err := dbsql.OpenGlobal(home)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids incidents resolve: %w", err)))
	}
	defer gdb.Close()
	global := store.NewGlobalStore(gdb)

	resolved, err := global.ResolveIncident(context.Background(), id, store.Resolution(*resolution))
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids incidents resolve: %w", err)))
	}
	if !resolved {
		return emit(*asJSON, func(interface{}) { fmt.Printf("%s: already resolved\n", id) },
			map[string]interface{}{"id": id, "resolved": false}, nil)
	}
	return emit(*asJSON, func(interface{}) { fmt.Printf("%s: resolved (%s)\n", id, *resolution) },
		map[string]interface{}{"id": id, "resolved": true, "resolution": *resolution}, nil)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
