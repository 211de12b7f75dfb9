package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Exit codes named in spec §6 "CLI surface".
const (
	exitOK             = 0
	exitGeneralError   = 1
	exitNotInitialized = 3
	exitResourceLocked = 6
)

// cliError pairs a machine-readable code with a message, the shape the
// --json error envelope carries (§6: "{success:false, error:{code,message}}").
type cliError struct {
	Code    string
	Message string
	Exit    int
}

func (e *cliError) Error() string { return e.Message }

func errNotInitialized(projectPath string) *cliError {
	return &cliError{Code: "NOT_INITIALIZED", Message: fmt.Sprintf("project %s has not been initialized (run `steroids init --project %s`)", projectPath, projectPath), Exit: exitNotInitialized}
}

func errResourceLocked(msg string) *cliError {
	return &cliError{Code: "RESOURCE_LOCKED", Message: msg, Exit: exitResourceLocked}
}

func errGeneral(err error) *cliError {
	return &cliError{Code: "ERROR", Message: err.Error(), Exit: exitGeneralError}
}

// jsonEnvelope is the single object every --json command writes to stdout.
type jsonEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *envError   `json:"error,omitempty"`
}

type envError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// emit writes the outcome in human or --json form and returns the process
// exit code, per §6: in --json mode exactly one object is written to stdout.
func emit(asJSON bool, humanFormat func(interface{}), data interface{}, err error) int {
	if err == nil {
		if asJSON {
			writeJSON(jsonEnvelope{Success: true, Data: data})
		} else if humanFormat != nil {
			humanFormat(data)
		}
		return exitOK
	}

	ce, ok := err.(*cliError)
	if !ok {
		ce = errGeneral(err)
	}
	if asJSON {
		writeJSON(jsonEnvelope{Success: false, Error: &envError{Code: ce.Code, Message: ce.Message}})
	} else {
		fmt.Fprintf(os.Stderr, "error: %s\n", ce.Message)
	}
	return ce.Exit
}

func writeJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
