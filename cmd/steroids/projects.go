package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/UnlikeOtherAI/steroids/internal/dbsql"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

func cmdProjects(args []string) int {
	if len(args) == 0 {
		fmt.Println("usage: steroids projects <add|list> ...")
		return exitGeneralError
	}
	switch args[0] {
	case "add":
		return cmdProjectsAdd(args[1:])
	case "list":
		return cmdProjectsList(args[1:])
	default:
		fmt.Printf("steroids projects: unknown subcommand %q\n", args[0])
		return exitGeneralError
	}
}

func cmdProjectsAdd(args []string) int {
	fs := flag.NewFlagSet("projects add", flag.ContinueOnError)
	name := fs.String("name", "", "project name (defaults to the directory's base name)")
	disabled := fs.Bool("disabled", false, "register without enabling for wakeup discovery")
	asJSON := fs.Bool("json", false, "emit a single JSON result object")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}
	if fs.NArg() != 1 {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids projects add: expected exactly one path argument")))
	}
	path := fs.Arg(0)
	projectName := *name
	if projectName == "" {
		projectName = filepath.Base(filepath.Clean(path))
	}

	home, err := defaultHomeDir()
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(err))
	}
	gdb, err := dbsql.OpenGlobal(home)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids projects add: %w", err)))
	}
	defer gdb.Close()
	global := store.NewGlobalStore(gdb)

	ctx := context.Background()
	if err := global.UpsertProject(ctx, store.Project{Name: projectName, Path: path, Enabled: !*disabled}); err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids projects add: %w", err)))
	}

	return emit(*asJSON, func(interface{}) { fmt.Printf("registered %s (%s)\n", projectName, path) },
		map[string]interface{}{"name": projectName, "path": path, "enabled": !*disabled}, nil)
}

func cmdProjectsList(args []string) int {
	fs := flag.NewFlagSet("projects list", flag.ContinueOnError)
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
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids projects list: %w", err)))
	}
	defer gdb.Close()
	global := store.NewGlobalStore(gdb)

	projects, err := global.ListEnabledProjects(context.Background())
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids projects list: %w", err)))
	}

	return emit(*asJSON, func(interface{}) {
		for _, p := range projects {
			fmt.Printf("%s\t%s\n", p.Name, p.Path)
		}
	}, projects, nil)
}
