// Package diagnostics formats script errors and prints them in a consistent
// way.
package diagnostics

import (
	"errors"
	"fmt"
	"go/token"
	"io"
	"path/filepath"
	"sort"

	"github.com/tinygo-org/semispace/gc"
	"github.com/tinygo-org/semispace/script"
)

// A single diagnostic.
type Diagnostic struct {
	Pos token.Position
	Msg string
}

// One or multiple errors of a particular script.
// It can also represent errors that aren't connected to a script line (like
// a failure to reserve memory).
type ScriptDiagnostic struct {
	Filename    string
	Diagnostics []Diagnostic
}

// Diagnostics of a whole run. This can include errors belonging to multiple
// scripts, or just a single one.
type RunDiagnostic []ScriptDiagnostic

// CreateDiagnostics reads the underlying errors in the error object and
// creates a set of diagnostics that's sorted and can be readily printed.
func CreateDiagnostics(err error) RunDiagnostic {
	if err == nil {
		return nil
	}
	return RunDiagnostic{
		createScriptDiagnostic(err),
	}
}

// Create diagnostics for a single script.
func createScriptDiagnostic(err error) ScriptDiagnostic {
	var diag ScriptDiagnostic
	var list *script.ErrorList
	if errors.As(err, &list) {
		diag.Filename = list.Filename
		for _, err := range list.Errs {
			diag.Diagnostics = append(diag.Diagnostics, createDiagnostic(err))
		}
	} else {
		diag.Diagnostics = []Diagnostic{createDiagnostic(err)}
	}

	// Sort these diagnostics by file/line/column.
	sort.SliceStable(diag.Diagnostics, func(i, j int) bool {
		posI := diag.Diagnostics[i].Pos
		posJ := diag.Diagnostics[j].Pos
		if posI.Filename != posJ.Filename {
			return posI.Filename < posJ.Filename
		}
		if posI.Line != posJ.Line {
			return posI.Line < posJ.Line
		}
		return posI.Column < posJ.Column
	})

	return diag
}

// Extract a diagnostic from a single error.
func createDiagnostic(err error) Diagnostic {
	var lineErr *script.Error
	if errors.As(err, &lineErr) {
		return Diagnostic{
			Pos: lineErr.Pos,
			Msg: message(lineErr.Err),
		}
	}
	return Diagnostic{Msg: message(err)}
}

// message returns the text of err, with a hint for out of memory errors.
func message(err error) string {
	if errors.Is(err, gc.ErrOutOfMemory) {
		return err.Error() + " (increase heap_size)"
	}
	return err.Error()
}

// Write run diagnostics to the given writer with 'wd' as the relative
// working directory.
func (runDiag RunDiagnostic) WriteTo(w io.Writer, wd string) {
	for _, diag := range runDiag {
		diag.WriteTo(w, wd)
	}
}

// Write script diagnostics to the given writer with 'wd' as the relative
// working directory.
func (scriptDiag ScriptDiagnostic) WriteTo(w io.Writer, wd string) {
	if scriptDiag.Filename != "" {
		fmt.Fprintln(w, "#", RelativePosition(token.Position{Filename: scriptDiag.Filename}, wd).Filename)
	}
	for _, diag := range scriptDiag.Diagnostics {
		diag.WriteTo(w, wd)
	}
}

// Write this diagnostic to the given writer with 'wd' as the relative working
// directory.
func (diag Diagnostic) WriteTo(w io.Writer, wd string) {
	if diag.Pos == (token.Position{}) {
		fmt.Fprintln(w, diag.Msg)
		return
	}
	pos := RelativePosition(diag.Pos, wd)
	fmt.Fprintf(w, "%s: %s\n", pos, diag.Msg)
}

// Convert the position in pos (assumed to have an absolute path) into a
// relative path if possible.
func RelativePosition(pos token.Position, wd string) token.Position {
	// Check whether we even have a working directory, and whether the path
	// is absolute to begin with.
	if wd == "" || !filepath.IsAbs(pos.Filename) {
		return pos
	}

	// Make the path relative, for easier reading. Ignore any errors in the
	// process (falling back to the absolute path).
	relpath, err := filepath.Rel(wd, pos.Filename)
	if err == nil {
		pos.Filename = relpath
	}
	return pos
}
