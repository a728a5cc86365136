// Package cellsfile parses and writes the cell location database file: a
// small line-oriented command format ("lac-ci", "no lac-ci", "cgi", "no
// cgi"). smlcd reads it once at startup into a cellloc.Table (a SIGHUP
// reloads only the log level, not this file); it is not an interactive
// command interpreter.
package cellsfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/osmocom-go/smlcd/internal/cellloc"
)

// ErrSyntax indicates a line in the cells file could not be parsed.
var ErrSyntax = errors.New("cellsfile: syntax error")

// Load reads the cells file at path into a new cellloc.Table. An empty path
// or a nonexistent file yields an empty table rather than an error, since the
// cell database is optional.
func Load(path string) (*cellloc.Table, error) {
	t := cellloc.NewTable()
	if path == "" {
		return t, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open cells file %s: %w", path, err)
	}
	defer f.Close()

	if err := Parse(f, t); err != nil {
		return nil, fmt.Errorf("parse cells file %s: %w", path, err)
	}
	return t, nil
}

// Parse reads lac-ci/cgi commands from r, applying each one to t. Blank
// lines, "#" comments, and the bare "cells" section header (as emitted by
// Write) are skipped.
func Parse(r io.Reader, t *cellloc.Table) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || line == "cells" {
			continue
		}
		if err := parseLine(line, t); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}

func parseLine(line string, t *cellloc.Table) error {
	fields := strings.Fields(line)

	remove := false
	if len(fields) > 0 && fields[0] == "no" {
		remove = true
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty command", ErrSyntax)
	}

	var id cellloc.CellIdentifier
	var rest []string
	var err error

	switch fields[0] {
	case "lac-ci":
		id, rest, err = parseLACCI(fields[1:])
	case "cgi":
		id, rest, err = parseCGI(fields[1:])
	default:
		return fmt.Errorf("%w: unknown command %q", ErrSyntax, fields[0])
	}
	if err != nil {
		return err
	}

	if remove {
		if len(rest) != 0 {
			return fmt.Errorf("%w: unexpected trailing arguments %q", ErrSyntax, rest)
		}
		if err := t.Remove(id); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		return nil
	}

	return setLocation(t, id, rest)
}

func parseLACCI(args []string) (cellloc.CellIdentifier, []string, error) {
	if len(args) < 2 {
		return cellloc.CellIdentifier{}, nil, fmt.Errorf("%w: lac-ci requires <lac> <ci>", ErrSyntax)
	}
	lac, err := parseUint16(args[0], "lac")
	if err != nil {
		return cellloc.CellIdentifier{}, nil, err
	}
	ci, err := parseUint16(args[1], "ci")
	if err != nil {
		return cellloc.CellIdentifier{}, nil, err
	}
	return cellloc.CellIdentifier{Discr: cellloc.DiscrLACCI, LAC: lac, CI: ci}, args[2:], nil
}

func parseCGI(args []string) (cellloc.CellIdentifier, []string, error) {
	if len(args) < 4 {
		return cellloc.CellIdentifier{}, nil, fmt.Errorf("%w: cgi requires <mcc> <mnc> <lac> <ci>", ErrSyntax)
	}
	mcc, err := parseUint16(args[0], "mcc")
	if err != nil {
		return cellloc.CellIdentifier{}, nil, err
	}
	mnc, err := parseUint16(args[1], "mnc")
	if err != nil {
		return cellloc.CellIdentifier{}, nil, err
	}
	lac, err := parseUint16(args[2], "lac")
	if err != nil {
		return cellloc.CellIdentifier{}, nil, err
	}
	ci, err := parseUint16(args[3], "ci")
	if err != nil {
		return cellloc.CellIdentifier{}, nil, err
	}
	return cellloc.CellIdentifier{Discr: cellloc.DiscrCGI, MCC: mcc, MNC: mnc, LAC: lac, CI: ci}, args[4:], nil
}

func parseUint16(s, field string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrSyntax, field, s)
	}
	return uint16(v), nil
}

// setLocation parses "lat <latitude> lon <longitude>" and stores it for id.
// The original VTY accepts a 6-fractional-digit fixed-point encoding of
// +-90/+-180 degrees; cellloc.Table.Set enforces the same range in floating
// point, which is equivalent since both just bound degrees.
func setLocation(t *cellloc.Table, id cellloc.CellIdentifier, args []string) error {
	if len(args) != 4 || args[0] != "lat" || args[2] != "lon" {
		return fmt.Errorf("%w: expected \"lat <latitude> lon <longitude>\"", ErrSyntax)
	}
	lat, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid latitude %q", ErrSyntax, args[1])
	}
	lon, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("%w: invalid longitude %q", ErrSyntax, args[3])
	}
	if err := t.Set(id, cellloc.Location{Latitude: lat, Longitude: lon}); err != nil {
		return fmt.Errorf("set %s: %w", id, err)
	}
	return nil
}

// Write renders every entry of t back into the lac-ci/cgi grammar Parse
// accepts. A thin wrapper over cellloc.Table.WriteConfig kept here so
// callers that only import cellsfile have a symmetric Parse/Write pair.
func Write(w io.Writer, t *cellloc.Table) error {
	return t.WriteConfig(w)
}
