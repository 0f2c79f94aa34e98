package protocol

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

// PrologRequest is the legacy OCS handshake (spec §6 "Legacy wire
// format (XML)").
type PrologRequest struct {
	XMLName  xml.Name `xml:"REQUEST"`
	DeviceID string   `xml:"DEVICEID"`
	Query    string   `xml:"QUERY"`
	Token    string   `xml:"TOKEN,omitempty"`
}

// PrologResponse is the server's reply to a PROLOG handshake. The
// fields that elevate a server to "GLPI server" are treated as
// observable only (spec §9 Open Questions): RESPONSE=SEND requests an
// inventory, PROLOG_FREQ is the next-contact interval in hours.
type PrologResponse struct {
	XMLName    xml.Name `xml:"REPLY"`
	Response   string   `xml:"RESPONSE"`
	PrologFreq int      `xml:"PROLOG_FREQ"`
}

// SendInventory reports whether the server asked for an inventory.
func (r *PrologResponse) SendInventory() bool { return r.Response == "SEND" }

// Prolog performs the legacy handshake against a non-GLPI server
// (spec §4.H "prolog (legacy handshake, used iff the server
// advertised a legacy inventory server)").
func (c *Client) Prolog(ctx context.Context, deviceID string) (*PrologResponse, error) {
	req := PrologRequest{DeviceID: deviceID, Query: "PROLOG"}
	body, err := xml.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal prolog: %w", err)
	}
	body = append([]byte(xml.Header), body...)

	raw, err := c.postXML(ctx, body)
	if err != nil {
		return nil, err
	}

	var parsed PrologResponse
	if err := xml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("protocol: malformed prolog reply (%s): %w", excerpt(raw), err)
	}
	return &parsed, nil
}

// SendLegacyInventory submits a pre-rendered OCS XML inventory
// envelope (the output of Document.Save's xml path) to a legacy
// server.
func (c *Client) SendLegacyInventory(ctx context.Context, envelope []byte) error {
	_, err := c.postXML(ctx, envelope)
	return err
}

// postXML posts an XML body with the negotiated compression and
// returns the decompressed reply.
func (c *Client) postXML(ctx context.Context, body []byte) ([]byte, error) {
	payload, err := compress(c.opts.Compression, body)
	if err != nil {
		return nil, fmt.Errorf("protocol: compress: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("protocol: build request: %w", err)
	}
	req.Header.Set("User-Agent", "FleetAgent/"+c.opts.AgentVersion)
	req.Header.Set("GLPI-Agent-ID", c.opts.AgentID)
	contentType := c.opts.Compression.contentType()
	if c.opts.Compression == CompressionNone {
		contentType = "application/xml"
	}
	req.Header.Set("Content-Type", contentType)
	if c.opts.User != "" {
		req.SetBasicAuth(c.opts.User, c.opts.Password)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("protocol: POST %s: %w", c.opts.URL, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("protocol: read reply: %w", err)
	}
	switch {
	case httpResp.StatusCode == http.StatusProxyAuthRequired:
		return nil, ErrProxyAuth
	case httpResp.StatusCode == http.StatusUnauthorized:
		return nil, ErrNoCredentials
	case httpResp.StatusCode >= 400:
		return nil, fmt.Errorf("protocol: server returned %d", httpResp.StatusCode)
	}

	return decompress(httpResp.Header.Get("Content-Type"), raw)
}
