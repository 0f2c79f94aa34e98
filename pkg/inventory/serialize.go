package inventory

import (
	"encoding/xml"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Content is the normalized section map handed to the protocol client
// as the "content" field of an inventory message (spec §6 "Wire
// format (inventory, JSON)").
type Content map[string]any

// GetContent returns the normalized, server-ready content map for
// serverVersion (spec §4.E "getContent(serverVersion)").
func (d *Document) GetContent(serverVersion string) (Content, string) {
	return d.getContent(serverVersion, nil)
}

// GetContentDropping is GetContent with dropped (raw, pre-rename
// section names) excluded entirely, for partial submissions driven by
// ComputeChecksum's result (spec §4.E "drop it from the submission").
func (d *Document) GetContentDropping(serverVersion string, dropped map[string]bool) (Content, string) {
	return d.getContent(serverVersion, dropped)
}

func (d *Document) getContent(serverVersion string, dropped map[string]bool) (Content, string) {
	norm := d.normalize(serverVersion, dropped)
	content := make(Content, len(norm.sections))
	for k, v := range norm.sections {
		switch t := v.(type) {
		case Record:
			content[strings.ToLower(k)] = lowercaseFieldKeys(t)
		case []Record:
			recs := make([]Record, 0, len(t))
			for _, rec := range t {
				recs = append(recs, lowercaseFieldKeys(rec))
			}
			content[strings.ToLower(k)] = recs
		default:
			content[strings.ToLower(k)] = v
		}
	}
	return content, norm.tag
}

// lowercaseFieldKeys rewrites a record's field names to the JSON
// protocol's lowercase form; the document (and the XML rendering)
// keep the declared uppercase names.
func lowercaseFieldKeys(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Envelope is the full wire message for a JSON inventory submission
// (spec §6).
type Envelope struct {
	DeviceID string   `json:"deviceid"`
	Action   string   `json:"action"`
	Itemtype string   `json:"itemtype"`
	Partial  bool     `json:"partial,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	Content  Content  `json:"content"`
}

// BuildEnvelope assembles the JSON wire envelope for this document
// (spec §6 "Wire format (inventory, JSON)"); partial is hoisted from
// whether ComputeChecksum dropped any section.
func (d *Document) BuildEnvelope(serverVersion string, partial bool) Envelope {
	return d.BuildEnvelopeDropping(serverVersion, partial, nil)
}

// BuildEnvelopeDropping is BuildEnvelope with the dropped sections
// from a ComputeChecksum result excluded from the content map.
func (d *Document) BuildEnvelopeDropping(serverVersion string, partial bool, dropped map[string]bool) Envelope {
	content, tag := d.GetContentDropping(serverVersion, dropped)
	return Envelope{
		DeviceID: d.opts.DeviceID,
		Action:   "inventory",
		Itemtype: d.opts.Itemtype,
		Partial:  partial,
		Tag:      tag,
		Content:  content,
	}
}

// Render serializes the document in format ("json", "xml", or
// "html") without touching the filesystem, for submitters that need
// the raw bytes (legacy XML POST, listener handoff).
func (d *Document) Render(format string) ([]byte, error) {
	switch format {
	case "json":
		env := d.BuildEnvelope(d.opts.GlpiVersion, false)
		return jsonAPI.MarshalIndent(env, "", "  ")
	case "html":
		return d.renderHTML()
	default:
		return d.renderXML()
	}
}

// Save writes the document to path in format ("json", "xml", or
// "html"). path "-" means stdout; a directory path auto-names
// "{deviceid}.{ext}" (spec §4.E "save(path)").
func (d *Document) Save(path, format string) error {
	body, err := d.Render(format)
	if err != nil {
		return fmt.Errorf("inventory: render %s: %w", format, err)
	}

	if path == "-" {
		_, err := os.Stdout.Write(body)
		return err
	}

	target := path
	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		target = filepath.Join(path, d.opts.DeviceID+"."+extFor(format))
	}
	return os.WriteFile(target, body, 0640)
}

func extFor(format string) string {
	switch format {
	case "json":
		return "json"
	case "html":
		return "html"
	default:
		return "xml"
	}
}

// legacyXML is the OCS-style envelope for non-GLPI servers and
// listener targets (spec §6 "Legacy wire format (XML)").
type legacyXML struct {
	XMLName  xml.Name `xml:"REQUEST"`
	DeviceID string   `xml:"DEVICEID"`
	Query    string   `xml:"QUERY"`
	Content  xmlContent `xml:"CONTENT"`
}

type xmlContent struct {
	Sections []xmlSection `xml:",any"`
}

type xmlSection struct {
	XMLName xml.Name
	Fields  []xmlField `xml:",any"`
}

type xmlField struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

func (d *Document) renderXML() ([]byte, error) {
	norm := d.normalize(d.opts.GlpiVersion, nil)
	req := legacyXML{DeviceID: d.opts.DeviceID, Query: "INVENTORY"}

	for section, v := range norm.sections {
		switch t := v.(type) {
		case Record:
			req.Content.Sections = append(req.Content.Sections, recordToXML(section, t))
		case []Record:
			for _, rec := range t {
				req.Content.Sections = append(req.Content.Sections, recordToXML(section, rec))
			}
		}
	}

	out, err := xml.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func recordToXML(section string, rec Record) xmlSection {
	s := xmlSection{XMLName: xml.Name{Local: section}}
	for k, v := range rec {
		s.Fields = append(s.Fields, xmlField{XMLName: xml.Name{Local: k}, Value: fmt.Sprintf("%v", v)})
	}
	return s
}

var htmlTemplate = template.Must(template.New("inventory").Parse(`<!DOCTYPE html>
<html><head><title>Inventory {{.DeviceID}}</title></head>
<body>
<h1>{{.DeviceID}}</h1>
{{range $section, $value := .Sections}}
<h2>{{$section}}</h2>
<pre>{{$value}}</pre>
{{end}}
</body></html>
`))

func (d *Document) renderHTML() ([]byte, error) {
	norm := d.normalize(d.opts.GlpiVersion, nil)
	data := struct {
		DeviceID string
		Sections map[string]any
	}{DeviceID: d.opts.DeviceID, Sections: norm.sections}

	var b strings.Builder
	if err := htmlTemplate.Execute(&b, data); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
