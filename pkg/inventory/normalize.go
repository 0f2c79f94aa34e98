package inventory

import "github.com/cuemby/fleetagent/pkg/log"

// legacyRenames are applied on output only (spec §4.E "Rename legacy
// fields on output").
var legacyRenames = map[string]map[string]string{
	"LOCAL_GROUPS": {"MEMBER": "MEMBERS"},
	"SOFTWARES":    {"INSTALLDATE": "INSTALL_DATE"},
	"STORAGES":     {"SERIALNUMBER": "SERIAL"},
	"NETWORKS":     {"MACADDR": "MAC"},
}

// sectionRenames renames a whole section on output (spec: "FIREWALL
// → FIREWALLS").
var sectionRenames = map[string]string{
	"FIREWALL": "FIREWALLS",
}

// rejectedFields are stripped per-field on output regardless of value
// (spec §4.E "Strip server-rejected fields").
var rejectedFields = map[string]map[string]bool{
	"LICENSEINFOS": {"OEM": true},
	"VIDEOS":       {"PCIID": true},
}

// rejectedSections are dropped wholesale on output.
var rejectedSections = map[string]bool{
	"RUDDER":   true,
	"REGISTRY": true,
}

// normalized is the server-ready form of a Document: plain maps keyed
// by (possibly renamed) section name, ready for JSON/XML encoding.
type normalized struct {
	sections map[string]any // Record or []Record
	tag      string
}

// normalize applies spec §4.E's output-time rules: required-field
// drop, rename, section strip, ACCOUNTINFO tag hoist, and legacy
// field renames. serverVersion selects version-specific adjustments
// (e.g. a pre-10 beta server lacks some boolean fields).
func (d *Document) normalize(serverVersion string, dropped map[string]bool) normalized {
	out := normalized{sections: make(map[string]any), tag: d.opts.Tag}

	for section, rec := range d.singletons {
		if rejectedSections[section] || dropped[section] {
			continue
		}
		out.sections[outputName(section)] = renameFields(section, stripRejected(section, cloneRecord(rec)))
	}

	for section, recs := range d.lists {
		if rejectedSections[section] || dropped[section] {
			continue
		}
		if section == "ACCOUNTINFO" {
			out.tag = hoistTag(recs, out.tag)
		}

		kept := make([]Record, 0, len(recs))
		for _, rec := range recs {
			if !hasRequiredFields(section, rec) {
				continue
			}
			kept = append(kept, renameFields(section, stripRejected(section, cloneRecord(rec))))
		}
		out.sections[outputName(section)] = applyVersionAdjustments(section, kept, serverVersion)
	}

	return out
}

func outputName(section string) string {
	if renamed, ok := sectionRenames[section]; ok {
		return renamed
	}
	return section
}

func cloneRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func stripRejected(section string, rec Record) Record {
	for field := range rejectedFields[section] {
		delete(rec, field)
	}
	return rec
}

func renameFields(section string, rec Record) Record {
	renames, ok := legacyRenames[section]
	if !ok {
		return rec
	}
	for from, to := range renames {
		v, present := rec[from]
		if !present {
			continue
		}
		if existing, conflict := rec[to]; conflict && existing != v {
			log.WithComponent("inventory").Debug().Str("section", section).Str("field", to).Msg("legacy field rename conflict, new value wins")
		}
		rec[to] = v
		delete(rec, from)
	}
	return rec
}

func hasRequiredFields(section string, rec Record) bool {
	spec, ok := schema[section]
	if !ok {
		return true
	}
	for name, fs := range spec.Fields {
		if fs.Required {
			if _, present := rec[name]; !present {
				return false
			}
		}
	}
	return true
}

// hoistTag promotes an ACCOUNTINFO entry whose KEYNAME is "TAG" to the
// document's root tag (spec §4.E "Hoist an ACCOUNTINFO... entry to
// root tag"). An explicitly configured tag always wins.
func hoistTag(recs []Record, existing string) string {
	if existing != "" {
		return existing
	}
	for _, rec := range recs {
		if name, _ := rec["KEYNAME"].(string); name == "TAG" {
			if v, ok := rec["KEYVALUE"].(string); ok {
				return v
			}
		}
	}
	return existing
}

// applyVersionAdjustments applies the spec's §4.E "server-version
// specific adjustments" — named but left underspecified beyond one
// concrete example (pre-10 beta booleans); only that example is
// implemented, matching the Open Questions guidance not to invent
// behavior beyond what's observable.
func applyVersionAdjustments(section string, recs []Record, serverVersion string) []Record {
	if section != "NETWORKS" || !isPre10Beta(serverVersion) {
		return recs
	}
	for _, rec := range recs {
		delete(rec, "VIRTUALDEV")
	}
	return recs
}

func isPre10Beta(version string) bool {
	return version != "" && (version == "9.5" || version == "9.4" || version == "9.3")
}
