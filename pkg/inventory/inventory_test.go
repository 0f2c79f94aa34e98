package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDoc() *Document {
	return New(Options{DeviceID: "host1-2026-01-01-00-00-00", Tag: ""})
}

func TestSetHardwareDropsUnknownFields(t *testing.T) {
	d := newDoc()
	d.SetHardware(Record{"NAME": "host1", "BOGUS": "nope"})
	hw := d.GetSingleton("HARDWARE")
	assert.Equal(t, "host1", hw["NAME"])
	_, present := hw["BOGUS"]
	assert.False(t, present)
}

func TestAddEntryStorageSerialFallback(t *testing.T) {
	d := newDoc()
	d.AddEntry("STORAGES", Record{"NAME": "disk0", "SERIAL": "abc123"})
	require.Len(t, d.GetList("STORAGES"), 1)
	assert.Equal(t, "abc123", d.GetList("STORAGES")[0]["SERIALNUMBER"])
}

func TestAddEntryDropsMissingRequiredField(t *testing.T) {
	d := newDoc()
	d.AddEntry("CPUS", Record{"MANUFACTURER": "Intel"})
	assert.Empty(t, d.GetList("CPUS"))
}

func TestAddEntryRejectsBadMAC(t *testing.T) {
	d := newDoc()
	d.AddEntry("NETWORKS", Record{"DESCRIPTION": "eth0", "MACADDR": "not-a-mac"})
	require.Len(t, d.GetList("NETWORKS"), 1)
	_, present := d.GetList("NETWORKS")[0]["MACADDR"]
	assert.False(t, present)
}

func TestGetContentRenamesLegacyFields(t *testing.T) {
	d := newDoc()
	d.AddEntry("SOFTWARES", Record{"NAME": "vim", "INSTALLDATE": "2026-01-15"})
	content, _ := d.GetContent("10.0")
	softwares := content["softwares"].([]Record)
	require.Len(t, softwares, 1)
	assert.Equal(t, "2026-01-15", softwares[0]["install_date"])
	_, old := softwares[0]["installdate"]
	assert.False(t, old)
}

func TestGetContentHoistsTag(t *testing.T) {
	d := newDoc()
	d.AddEntry("ACCOUNTINFO", Record{"KEYNAME": "TAG", "KEYVALUE": "site-a"})
	_, tag := d.GetContent("10.0")
	assert.Equal(t, "site-a", tag)
}

func TestGetContentStripsRejectedSections(t *testing.T) {
	d := newDoc()
	d.AddEntry("RUDDER", Record{"UUID": "x"})
	content, _ := d.GetContent("10.0")
	_, present := content["rudder"]
	assert.False(t, present)
}

func TestComputeChecksumDropsUnchangedPartial(t *testing.T) {
	d := newDoc()
	d.SetHardware(Record{"NAME": "host1"})
	d.AddEntry("CPUS", Record{"NAME": "cpu0"})

	state := NewLastState()
	cfg := PostponeConfig{MaxPostpone: 2}

	// First run: nothing to compare against, so nothing is "unchanged".
	res := ComputeChecksum(d, state, cfg)
	assert.False(t, res.Dropped["CPUS"])
	assert.Equal(t, 0, res.PostponeCount)

	// Second run, same content: CPUS (not always-keep) becomes droppable.
	res = ComputeChecksum(d, state, cfg)
	assert.True(t, res.Dropped["CPUS"])
	assert.False(t, res.Dropped["HARDWARE"], "HARDWARE is always-keep")
	assert.Equal(t, 1, res.PostponeCount)
}

func TestComputeChecksumForcesFullAfterMaxPostpones(t *testing.T) {
	d := newDoc()
	d.AddEntry("CPUS", Record{"NAME": "cpu0"})

	state := NewLastState()
	cfg := PostponeConfig{MaxPostpone: 2}

	ComputeChecksum(d, state, cfg) // baseline
	res := ComputeChecksum(d, state, cfg)
	assert.Equal(t, 1, res.PostponeCount)
	res = ComputeChecksum(d, state, cfg)
	assert.Equal(t, 2, res.PostponeCount)

	// Third postponed run would exceed MaxPostpone: next run is full.
	res = ComputeChecksum(d, state, cfg)
	assert.False(t, res.Dropped["CPUS"])
	assert.Equal(t, 0, state.PostponeCount)
}

func TestComputeChecksumIdempotentWithNoMutation(t *testing.T) {
	d := newDoc()
	d.AddEntry("CPUS", Record{"NAME": "cpu0"})
	state := NewLastState()
	cfg := PostponeConfig{MaxPostpone: 0}

	ComputeChecksum(d, state, cfg)
	snapshot := state.Sections["CPUS"]
	ComputeChecksum(d, state, cfg)
	assert.Equal(t, snapshot, state.Sections["CPUS"])
}

func TestCoerceDateTolerantFormats(t *testing.T) {
	v, ok := coerceDate("15/01/2026")
	require.True(t, ok)
	assert.Equal(t, "2026-01-15", v)

	v, ok = coerceDate("2026-01-15")
	require.True(t, ok)
	assert.Equal(t, "2026-01-15", v)

	_, ok = coerceDate("not-a-date")
	assert.False(t, ok)
}

func TestCoerceDateTimePadsSeconds(t *testing.T) {
	v, ok := coerceDateTime("2026-01-15 08:30")
	require.True(t, ok)
	assert.Equal(t, "2026-01-15 08:30:00", v)
}
