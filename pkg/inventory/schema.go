// Package inventory implements the agent's in-memory inventory
// document (spec §4.E): a sectioned entity store with per-field
// validation, JSON/XML/HTML serialization, and the checksum/postpone
// engine that drives partial inventory.
//
// It is a fresh package: nothing in the retrieved corpus models a
// sectioned, schema-checked document like this, so the shape is the
// spec's own, built in the teacher's idiom (plain structs, explicit
// validation functions, no reflection-driven magic) and serialized
// with json-iterator the way ghjramos-aistore's S3 proxy layer does
// for its own hot JSON path (see DESIGN.md).
package inventory

import (
	"regexp"
	"sort"
)

// FieldType is a section field's declared coercion target (spec §4.E
// "Normalization").
type FieldType int

const (
	TypeString FieldType = iota
	TypeInteger
	TypeBoolean
	TypeDate
	TypeDateTime
	TypeDateOrDateTime
)

// FieldSpec declares one field of a section's field set.
type FieldSpec struct {
	Type      FieldType
	Required  bool
	Pattern   *regexp.Regexp // drop the value if non-matching
	Lowercase bool
	Uppercase bool
}

// SectionSpec declares one inventory section: whether it holds a
// single record or a list of them, and its field set.
type SectionSpec struct {
	Singleton bool
	Fields    map[string]FieldSpec
	// AlwaysKeep sections are never dropped by the postpone engine
	// (spec §4.E "checksum and postpone": BIOS, HARDWARE).
	AlwaysKeep bool
	// Parent names the section this one nests under for the
	// "parent/child" checksum pairing (e.g. DATABASES_SERVICES/DATABASES).
	Parent string
}

// schema is the known-sections set (spec §8 invariant 1). It is not
// exhaustive of every real GLPI field — hardware probes are opaque
// collaborators per spec §1 — but covers every section the spec's
// normalization rules and worked examples name explicitly.
var schema = map[string]SectionSpec{
	"BIOS": {Singleton: true, AlwaysKeep: true, Fields: map[string]FieldSpec{
		"SMANUFACTURER": {Type: TypeString},
		"SMODEL":        {Type: TypeString},
		"SSN":           {Type: TypeString},
		"BMANUFACTURER": {Type: TypeString},
		"BVERSION":      {Type: TypeString},
		"BDATE":         {Type: TypeDate},
		"ASSETTAG":      {Type: TypeString},
	}},
	"HARDWARE": {Singleton: true, AlwaysKeep: true, Fields: map[string]FieldSpec{
		"NAME":                {Type: TypeString, Required: true},
		"UUID":                {Type: TypeString},
		"OSVERSION":           {Type: TypeString},
		"MEMORY":              {Type: TypeInteger},
		"LASTLOGGEDUSER":      {Type: TypeString},
		"DATELASTLOGGEDUSER":  {Type: TypeString},
		"VMSYSTEM":            {Type: TypeString},
	}},
	"OPERATINGSYSTEM": {Singleton: true, Fields: map[string]FieldSpec{
		"NAME":         {Type: TypeString, Required: true},
		"VERSION":      {Type: TypeString},
		"KERNEL_NAME":  {Type: TypeString},
		"FULL_NAME":    {Type: TypeString},
		"INSTALL_DATE": {Type: TypeDate},
		"BOOT_TIME":    {Type: TypeDateTime},
	}},
	"ACCESSLOG": {Singleton: true, Fields: map[string]FieldSpec{
		"LOGDATE":  {Type: TypeDateTime},
		"USERID":   {Type: TypeString},
	}},
	"CPUS": {Fields: map[string]FieldSpec{
		"NAME":         {Type: TypeString, Required: true},
		"MANUFACTURER": {Type: TypeString},
		"SPEED":        {Type: TypeInteger},
		"CORE":         {Type: TypeInteger},
		"THREAD":       {Type: TypeInteger},
		"SERIAL":       {Type: TypeString},
	}},
	"NETWORKS": {Fields: map[string]FieldSpec{
		"DESCRIPTION": {Type: TypeString, Required: true},
		"MACADDR":     {Type: TypeString, Pattern: macPattern},
		"IPADDRESS":   {Type: TypeString},
		"STATUS":      {Type: TypeString, Uppercase: true},
		"VIRTUALDEV":  {Type: TypeBoolean},
	}},
	"STORAGES": {Fields: map[string]FieldSpec{
		"NAME":         {Type: TypeString, Required: true},
		"MANUFACTURER": {Type: TypeString},
		"MODEL":        {Type: TypeString},
		"DISKSIZE":     {Type: TypeInteger},
		"SERIAL":       {Type: TypeString},
		"SERIALNUMBER": {Type: TypeString},
		"TYPE":         {Type: TypeString},
	}},
	"SOFTWARES": {Fields: map[string]FieldSpec{
		"NAME":         {Type: TypeString, Required: true},
		"VERSION":      {Type: TypeString},
		"PUBLISHER":    {Type: TypeString},
		"INSTALLDATE":  {Type: TypeDate},
		"INSTALL_DATE": {Type: TypeDate},
		"ARCH":         {Type: TypeString},
	}},
	"USERS": {Fields: map[string]FieldSpec{
		"LOGIN": {Type: TypeString, Required: true},
		"NAME":  {Type: TypeString},
		"ID":    {Type: TypeString},
	}},
	"LOCAL_GROUPS": {Fields: map[string]FieldSpec{
		"NAME":    {Type: TypeString, Required: true},
		"ID":      {Type: TypeString},
		"MEMBER":  {Type: TypeString},
		"MEMBERS": {Type: TypeString},
	}},
	"LOGICAL_VOLUMES": {Fields: map[string]FieldSpec{
		"LV_NAME": {Type: TypeString, Required: true},
		"VG_NAME": {Type: TypeString},
		"SIZE":    {Type: TypeInteger},
	}},
	"PHYSICAL_VOLUMES": {Fields: map[string]FieldSpec{
		"DEVICE":  {Type: TypeString, Required: true},
		"PV_PE_COUNT": {Type: TypeInteger},
		"VG_NAME": {Type: TypeString},
	}},
	"VOLUME_GROUPS": {Fields: map[string]FieldSpec{
		"VG_NAME": {Type: TypeString, Required: true},
		"VG_SIZE": {Type: TypeInteger},
		"VG_FREE": {Type: TypeInteger},
	}},
	"DATABASES_SERVICES": {Fields: map[string]FieldSpec{
		"NAME":     {Type: TypeString, Required: true},
		"TYPE":     {Type: TypeString},
		"VERSION":  {Type: TypeString},
	}},
	"DATABASES": {Parent: "DATABASES_SERVICES", Fields: map[string]FieldSpec{
		"NAME":        {Type: TypeString, Required: true},
		"SIZE":        {Type: TypeInteger},
		"IS_ACTIVE":   {Type: TypeBoolean},
		"CREATION_DATE": {Type: TypeDateOrDateTime},
		"UPDATE_DATE": {Type: TypeDateOrDateTime},
	}},
	"LICENSEINFOS": {Fields: map[string]FieldSpec{
		"NAME": {Type: TypeString, Required: true},
		"KEY":  {Type: TypeString},
		"OEM":  {Type: TypeString},
	}},
	"VIDEOS": {Fields: map[string]FieldSpec{
		"NAME":   {Type: TypeString, Required: true},
		"MEMORY": {Type: TypeInteger},
		"PCIID":  {Type: TypeString},
	}},
	"RUDDER": {Fields: map[string]FieldSpec{
		"UUID": {Type: TypeString},
	}},
	"REGISTRY": {Fields: map[string]FieldSpec{
		"NAME":  {Type: TypeString},
		"VALUE": {Type: TypeString},
	}},
	"FIREWALL": {Fields: map[string]FieldSpec{
		"STATUS": {Type: TypeString, Uppercase: true},
		"PROFILE": {Type: TypeString},
	}},
	"ACCOUNTINFO": {Fields: map[string]FieldSpec{
		"KEYNAME":  {Type: TypeString, Required: true},
		"KEYVALUE": {Type: TypeString},
	}},
}

var macPattern = regexp.MustCompile(`^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$`)

// categoryMap groups sections into user-facing categories (spec §3
// "category map").
var categoryMap = map[string][]string{
	"bios":      {"BIOS"},
	"hardware":  {"HARDWARE"},
	"os":        {"OPERATINGSYSTEM"},
	"cpu":       {"CPUS"},
	"network":   {"NETWORKS"},
	"storage":   {"STORAGES"},
	"software":  {"SOFTWARES"},
	"user":      {"USERS", "LOCAL_GROUPS"},
	"lvm":       {"LOGICAL_VOLUMES", "PHYSICAL_VOLUMES", "VOLUME_GROUPS"},
	"database":  {"DATABASES_SERVICES", "DATABASES"},
	"license":   {"LICENSEINFOS"},
	"video":     {"VIDEOS"},
	"firewall":  {"FIREWALL"},
	"accesslog": {"ACCESSLOG"},
}

// AllSections returns every declared section name, sorted.
func AllSections() []string {
	out := make([]string, 0, len(schema))
	for s := range schema {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// IsSingleton reports whether section holds one record rather than a
// list; an unknown section is treated as list-shaped.
func IsSingleton(section string) bool {
	return schema[section].Singleton
}

// Categories returns the sorted list of known category names (spec §6
// "--list-categories").
func Categories() []string {
	out := make([]string, 0, len(categoryMap))
	for c := range categoryMap {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// SectionsForCategories returns the union of sections named by the
// given categories. An unknown category contributes nothing.
func SectionsForCategories(categories []string) map[string]bool {
	out := make(map[string]bool)
	for _, c := range categories {
		for _, s := range categoryMap[c] {
			out[s] = true
		}
	}
	return out
}
