package inventorytask

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cuemby/fleetagent/pkg/inventory"
)

// mergeAdditionalContent loads path (JSON or XML, by extension) and
// merges its sections into doc (spec §4.G step 5 "inject
// additional-content if configured (XML or JSON file merged into the
// document)"). Each top-level key is a section name; its value is
// either a single object (singleton section) or an array of objects
// (list section) of plain field/value pairs.
func mergeAdditionalContent(doc *inventory.Document, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("additional-content: open: %w", err)
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".xml") {
		return mergeXMLContent(doc, f)
	}
	return mergeJSONContent(doc, f)
}

func mergeJSONContent(doc *inventory.Document, r io.Reader) error {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return fmt.Errorf("additional-content: decode json: %w", err)
	}

	for section, msg := range raw {
		section = strings.ToUpper(section)
		if inventory.IsSingleton(section) {
			var rec inventory.Record
			if err := json.Unmarshal(msg, &rec); err != nil {
				continue
			}
			doc.SetSingleton(section, rec)
			continue
		}
		var list []inventory.Record
		if err := json.Unmarshal(msg, &list); err != nil {
			var single inventory.Record
			if err := json.Unmarshal(msg, &single); err == nil {
				doc.AddEntry(section, single)
			}
			continue
		}
		for _, rec := range list {
			doc.AddEntry(section, rec)
		}
	}
	return nil
}

// additionalXML is a generic OCS-style envelope: a CONTENT element
// whose children are section elements, whose children are field
// elements. Mirrors the shape written by renderXML/legacyXML in
// pkg/inventory, so a file saved with --xml can round-trip as
// --additional-content.
type additionalXML struct {
	Content struct {
		Sections []struct {
			XMLName xml.Name
			Fields  []struct {
				XMLName xml.Name
				Value   string `xml:",chardata"`
			} `xml:",any"`
		} `xml:",any"`
	} `xml:"CONTENT"`
}

func mergeXMLContent(doc *inventory.Document, r io.Reader) error {
	var parsed additionalXML
	if err := xml.NewDecoder(r).Decode(&parsed); err != nil {
		return fmt.Errorf("additional-content: decode xml: %w", err)
	}

	for _, sec := range parsed.Content.Sections {
		section := strings.ToUpper(sec.XMLName.Local)
		rec := make(inventory.Record, len(sec.Fields))
		for _, f := range sec.Fields {
			rec[strings.ToUpper(f.XMLName.Local)] = f.Value
		}
		if inventory.IsSingleton(section) {
			doc.SetSingleton(section, rec)
			continue
		}
		doc.AddEntry(section, rec)
	}
	return nil
}
