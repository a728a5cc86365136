// Package cellloc implements the cell location table: a static, operator
// configured mapping from GSM cell identities to a fixed geographical
// position, the base of every location estimate (a TA, when one is known,
// only sets the uncertainty radius).
package cellloc

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/osmocom-go/smlcd/internal/gad"
)

// Discriminator identifies which fields of a CellIdentifier are populated,
// mirroring the CGI/LAC/CI/LAC-CI discriminator set BSSMAP-LE carries on the
// wire (3GPP TS 48.008 §3.2.2.17 cell identification discriminators).
type Discriminator uint8

const (
	// DiscrLACCI identifies a cell by (LAC, CI).
	DiscrLACCI Discriminator = iota
	// DiscrLAC identifies a cell by LAC alone.
	DiscrLAC
	// DiscrCI identifies a cell by CI alone.
	DiscrCI
	// DiscrCGI identifies a cell by full (MCC, MNC, LAC, CI).
	DiscrCGI
)

// String implements fmt.Stringer.
func (d Discriminator) String() string {
	switch d {
	case DiscrLACCI:
		return "LAC-CI"
	case DiscrLAC:
		return "LAC"
	case DiscrCI:
		return "CI"
	case DiscrCGI:
		return "CGI"
	default:
		return "unknown"
	}
}

// CellIdentifier is a tagged union over the cell identification
// discriminators used on the Lb interface. Only the fields relevant to Discr
// are meaningful.
type CellIdentifier struct {
	Discr Discriminator
	MCC   uint16
	MNC   uint16
	LAC   uint16
	CI    uint16
}

// Matches reports whether two identifiers refer to the same cell. An exact
// match requires identical discriminators and field values. A relaxed match
// (used as the fallback pass in Find) allows a CGI to match a bare LAC-CI or
// CI entry sharing the overlapping fields, and vice versa -- this mirrors
// gsm0808_cell_ids_match's "compatible discriminator" relaxation in the
// original C implementation.
func (c CellIdentifier) Matches(other CellIdentifier, relaxed bool) bool {
	if c.Discr == other.Discr {
		switch c.Discr {
		case DiscrLACCI:
			return c.LAC == other.LAC && c.CI == other.CI
		case DiscrLAC:
			return c.LAC == other.LAC
		case DiscrCI:
			return c.CI == other.CI
		case DiscrCGI:
			return c.MCC == other.MCC && c.MNC == other.MNC && c.LAC == other.LAC && c.CI == other.CI
		}
	}

	if !relaxed {
		return false
	}

	// Relaxed cross-discriminator comparison: compare only the fields both
	// sides actually carry.
	if c.hasLAC(c.Discr) && other.hasLAC(other.Discr) && c.LAC != other.LAC {
		return false
	}
	if c.hasCI(c.Discr) && other.hasCI(other.Discr) && c.CI != other.CI {
		return false
	}
	if !c.hasLAC(c.Discr) && !c.hasCI(c.Discr) {
		return false
	}
	if !other.hasLAC(other.Discr) && !other.hasCI(other.Discr) {
		return false
	}
	// Require at least one of LAC/CI actually compared and matched above;
	// a pure CI-only vs LAC-only pair is not sufficient to call a match.
	cHasBoth := c.hasLAC(c.Discr) && c.hasCI(c.Discr)
	oHasBoth := other.hasLAC(other.Discr) && other.hasCI(other.Discr)
	if !cHasBoth && !oHasBoth {
		return false
	}
	return true
}

func (c CellIdentifier) hasLAC(d Discriminator) bool {
	return d == DiscrLACCI || d == DiscrLAC || d == DiscrCGI
}

func (c CellIdentifier) hasCI(d Discriminator) bool {
	return d == DiscrLACCI || d == DiscrCI || d == DiscrCGI
}

// OverlayCI returns a copy of c with its CI field replaced by newCI,
// preserving the original discriminator. For a CI-only identifier this
// simply replaces CI; for LAC-CI and CGI it overwrites CI while keeping
// LAC/MCC/MNC. Grounded on smlc_loc_req.c's update_ci, which normalizes to
// CGI, overwrites CI, and converts back to the original discriminator.
func OverlayCI(orig CellIdentifier, newCI uint16) CellIdentifier {
	out := orig
	out.CI = newCI
	return out
}

// Location is a fixed geographical position assigned to a cell.
type Location struct {
	Latitude          float64
	Longitude         float64
	UncertaintyMeters float64
}

// ComposeGAD renders l as a GAD ellipsoid-point-with-uncertainty-circle.
func (l Location) ComposeGAD() gad.EllipsoidPointUncCircle {
	sign := l.Latitude < 0
	return gad.EllipsoidPointUncCircle{
		LatitudeSign:      sign,
		Latitude:          math.Abs(l.Latitude),
		Longitude:         l.Longitude,
		UncertaintyMeters: l.UncertaintyMeters,
	}
}

// ErrNotFound indicates no configured cell matches the requested identifier.
var ErrNotFound = errors.New("cellloc: no matching cell")

// ErrInvalidLatitude indicates a latitude outside [-90, 90] degrees.
var ErrInvalidLatitude = errors.New("cellloc: latitude out of range")

// ErrInvalidLongitude indicates a longitude outside [-180, 180] degrees.
var ErrInvalidLongitude = errors.New("cellloc: longitude out of range")

type entry struct {
	id  CellIdentifier
	loc Location
}

// Table is the static cell -> location mapping. Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries []entry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{}
}

// Set inserts or replaces the location for id. An existing exact-discriminator
// match is overwritten in place.
func (t *Table) Set(id CellIdentifier, loc Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return fmt.Errorf("latitude %.6f: %w", loc.Latitude, ErrInvalidLatitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return fmt.Errorf("longitude %.6f: %w", loc.Longitude, ErrInvalidLongitude)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].id.Matches(id, false) {
			t.entries[i].loc = loc
			return nil
		}
	}
	t.entries = append(t.entries, entry{id: id, loc: loc})
	return nil
}

// Remove deletes the entry exactly matching id, if any. Returns ErrNotFound
// if no exact match exists.
func (t *Table) Remove(id CellIdentifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].id.Matches(id, false) {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Find looks up the location for id. It first tries an exact discriminator
// match; if none is found, it falls back to a relaxed cross-discriminator
// match (e.g. a configured LAC-CI entry satisfying a CGI lookup that shares
// LAC and CI). This two-pass strategy mirrors cell_locations.c's
// cell_location_find.
func (t *Table) Find(id CellIdentifier) (Location, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, e := range t.entries {
		if e.id.Matches(id, false) {
			return e.loc, nil
		}
	}
	for _, e := range t.entries {
		if e.id.Matches(id, true) {
			return e.loc, nil
		}
	}
	return Location{}, fmt.Errorf("cell %s: %w", id, ErrNotFound)
}

// String renders a CellIdentifier for logging, e.g. "LAC-CI 23-1024" or
// "CGI 262-01-23-1024".
func (c CellIdentifier) String() string {
	switch c.Discr {
	case DiscrLACCI:
		return fmt.Sprintf("LAC-CI %d-%d", c.LAC, c.CI)
	case DiscrLAC:
		return fmt.Sprintf("LAC %d", c.LAC)
	case DiscrCI:
		return fmt.Sprintf("CI %d", c.CI)
	case DiscrCGI:
		return fmt.Sprintf("CGI %d-%d-%d-%d", c.MCC, c.MNC, c.LAC, c.CI)
	default:
		return "invalid-cell-id"
	}
}

// TAToMeters converts a GSM Timing Advance value (0-63 bit periods) to a
// ranging uncertainty radius in meters. One TA step corresponds to one bit
// period of propagation delay, i.e. 550m (ta_to_m in cell_locations.c).
func TAToMeters(ta uint8) float64 {
	return float64(ta) * 550.0
}

// List returns a snapshot of every configured entry, sorted for deterministic
// output (used by WriteConfig and the offline cells-dump command).
func (t *Table) List() []struct {
	ID  CellIdentifier
	Loc Location
} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]struct {
		ID  CellIdentifier
		Loc Location
	}, len(t.entries))
	for i, e := range t.entries {
		out[i] = struct {
			ID  CellIdentifier
			Loc Location
		}{ID: e.id, Loc: e.loc}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

// WriteConfig renders every configured entry back into the lac-ci/cgi
// command grammar internal/config/cellsfile parses, one command per line,
// sorted for deterministic output. Grounded on cell_locations.c's
// config_write_cells, which dumps the VTY's live cell table in the same
// grammar it was loaded from.
func (t *Table) WriteConfig(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "cells"); err != nil {
		return err
	}
	for _, e := range t.List() {
		var prefix string
		switch e.ID.Discr {
		case DiscrLACCI:
			prefix = fmt.Sprintf("lac-ci %d %d", e.ID.LAC, e.ID.CI)
		case DiscrCGI:
			prefix = fmt.Sprintf("cgi %d %d %d %d", e.ID.MCC, e.ID.MNC, e.ID.LAC, e.ID.CI)
		default:
			return fmt.Errorf("cellloc: cannot serialize cell identifier discriminator %s", e.ID.Discr)
		}
		if _, err := fmt.Fprintf(w, "%s lat %.6f lon %.6f\n", prefix, e.Loc.Latitude, e.Loc.Longitude); err != nil {
			return err
		}
	}
	return nil
}
