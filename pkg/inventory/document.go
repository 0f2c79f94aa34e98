package inventory

import (
	"strings"
	"unicode"

	"github.com/cuemby/fleetagent/pkg/log"
)

// Record is one entity: a section's field values, keyed by field name.
type Record map[string]any

// Options configures New (spec §4.E "Construction parameters").
type Options struct {
	DeviceID         string
	StateDir         string
	DataDir          string
	GlpiVersion      string
	RequiredCategory []string
	Itemtype         string
	Tag              string
}

// Document is the agent's in-memory inventory: a mapping from section
// name to either a singleton Record or a list of them.
type Document struct {
	opts Options

	singletons map[string]Record
	lists      map[string][]Record
}

// New constructs an empty Document. Itemtype defaults to "Computer"
// per spec §4.E.
func New(opts Options) *Document {
	if opts.Itemtype == "" {
		opts.Itemtype = "Computer"
	}
	return &Document{
		opts:       opts,
		singletons: make(map[string]Record),
		lists:      make(map[string][]Record),
	}
}

// sanitizeString strips control characters and ensures valid UTF-8
// (spec §4.E "addEntry... sanitize strings").
func sanitizeString(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// filterKnownFields drops any key not declared in spec's field set for
// section, returning a new Record (spec §8 invariant 1, §4.E "unknown
// fields are rejected/dropped").
func filterKnownFields(section string, rec Record) Record {
	spec, ok := schema[section]
	out := make(Record, len(rec))
	for k, v := range rec {
		if v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			continue
		}
		if ok {
			if _, known := spec.Fields[k]; !known {
				continue
			}
		}
		if s, isStr := v.(string); isStr {
			v = sanitizeString(s)
		}
		out[k] = v
	}
	return out
}

// setSingleton upserts a singleton section (spec §4.E "setHardware,
// setBios, setOperatingSystem, setAccessLog").
func (d *Document) setSingleton(section string, kv Record) {
	filtered := filterKnownFields(section, kv)
	existing, ok := d.singletons[section]
	if !ok {
		d.singletons[section] = filtered
		return
	}
	for k, v := range filtered {
		existing[k] = v
	}
	d.singletons[section] = existing
}

// SetHardware upserts the HARDWARE singleton.
func (d *Document) SetHardware(kv Record) { d.setSingleton("HARDWARE", kv) }

// SetBios upserts the BIOS singleton.
func (d *Document) SetBios(kv Record) { d.setSingleton("BIOS", kv) }

// SetOperatingSystem upserts the OPERATINGSYSTEM singleton.
func (d *Document) SetOperatingSystem(kv Record) { d.setSingleton("OPERATINGSYSTEM", kv) }

// SetAccessLog upserts the ACCESSLOG singleton.
func (d *Document) SetAccessLog(kv Record) { d.setSingleton("ACCESSLOG", kv) }

// SetSingleton upserts any singleton section by name, for callers
// (additional-content merge) that don't know the section ahead of
// time the way SetHardware/SetBios/etc. do.
func (d *Document) SetSingleton(section string, kv Record) { d.setSingleton(section, kv) }

// AddEntry appends rec to section's list (spec §4.E "addEntry").
// Unknown fields are dropped; STORAGES without SERIALNUMBER inherits
// it from SERIAL per the spec's special rule.
func (d *Document) AddEntry(section string, rec Record) {
	filtered := filterKnownFields(section, rec)

	if section == "STORAGES" {
		if _, has := filtered["SERIALNUMBER"]; !has {
			if serial, ok := filtered["SERIAL"]; ok {
				filtered["SERIALNUMBER"] = serial
			}
		}
	}

	if err := applyChecks(section, filtered); err != nil {
		log.WithComponent("inventory").Debug().Str("section", section).Err(err).Msg("entry dropped by field checks")
		return
	}

	d.lists[section] = append(d.lists[section], filtered)
}

// GetSingleton returns section's singleton record, or nil.
func (d *Document) GetSingleton(section string) Record {
	return d.singletons[section]
}

// GetList returns section's list, possibly empty.
func (d *Document) GetList(section string) []Record {
	return d.lists[section]
}

// Sections returns every section name currently populated.
func (d *Document) Sections() []string {
	out := make([]string, 0, len(d.singletons)+len(d.lists))
	for s := range d.singletons {
		out = append(out, s)
	}
	for s := range d.lists {
		out = append(out, s)
	}
	return out
}

// MergeContent deep-merges other into d: list sections concatenate,
// singletons update, and tag/ACCOUNTINFO hoisting applies during
// normalization rather than here (spec §4.E "mergeContent").
func (d *Document) MergeContent(other *Document) {
	for section, rec := range other.singletons {
		d.setSingleton(section, rec)
	}
	for section, recs := range other.lists {
		d.lists[section] = append(d.lists[section], recs...)
	}
}
