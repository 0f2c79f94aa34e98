package httpd

import (
	"crypto/sha512"
	"encoding/hex"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/log"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>Fleet Agent</title></head>
<body>
<h1>This is a Fleet Agent {{.Version}}</h1>
<p>Status: {{.Status}}</p>
{{if .Targets}}
<p>The agent is configured with the following targets:</p>
<ul>
{{range .Targets}}<li>{{.}}</li>
{{end}}</ul>
{{end}}
</body></html>
`))

// handleIndex renders the status page; target URLs and paths are only
// disclosed to trusted peers (spec §4.I "GET /").
func (s *Server) handleIndex(c *gin.Context) {
	data := struct {
		Version string
		Status  string
		Targets []string
	}{Version: s.opts.Version, Status: s.Status()}

	if s.trust.IsTrusted(c.Request.RemoteAddr) {
		for _, t := range s.targets {
			switch t.Kind() {
			case config.TargetServer:
				data.Targets = append(data.Targets, "server: "+t.URL())
			case config.TargetLocal:
				data.Targets = append(data.Targets, "local: "+t.Path())
			default:
				data.Targets = append(data.Targets, "listener")
			}
		}
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(c.Writer, data); err != nil {
		log.WithComponent("httpd").Warn().Err(err).Msg("index render failed")
	}
}

// handleStatus returns the agent status string (spec §4.I "GET
// /status").
func (s *Server) handleStatus(c *gin.Context) {
	c.String(http.StatusOK, "status: %s", s.Status())
}

// handleNow advances schedules for trusted peers (spec §4.I "GET
// /now"): a peer trusted as a specific server target advances that
// target; a globally trusted peer advances every target; anyone else
// gets 403.
func (s *Server) handleNow(c *gin.Context) {
	remote := c.Request.RemoteAddr

	if targetID, ok := s.trust.TrustedServer(remote); ok {
		for _, t := range s.targets {
			if t.ID() == targetID {
				t.SetNextRunNow()
			}
		}
		c.String(http.StatusOK, "OK")
		return
	}

	if s.trust.IsTrustedStatic(remote) {
		for _, t := range s.targets {
			t.SetNextRunNow()
		}
		c.String(http.StatusOK, "OK")
		return
	}

	log.WithComponent("httpd").Debug().Str("remote", remote).Msg("untrusted /now request")
	c.String(http.StatusForbidden, "Access denied")
}

// handleGetFile streams a content-addressed deploy file part (spec
// §4.I "GET /deploy/getFile/{sha512}"): walk each target's
// deploy/fileparts/shared tree for a path whose prefix matches the
// digest's leading nibbles and whose content hashes to the full
// digest.
func (s *Server) handleGetFile(c *gin.Context) {
	digest := strings.ToLower(c.Param("sha512"))
	if len(digest) != 128 || !isHex(digest) {
		c.String(http.StatusBadRequest, "invalid sha512")
		return
	}

	for _, t := range s.targets {
		path := s.findFilePart(t.Dir(), digest)
		if path == "" {
			continue
		}
		if !verifySHA512(path, digest) {
			log.WithComponent("httpd").Debug().Str("path", path).Msg("filepart digest mismatch, skipping")
			continue
		}
		c.Header("Content-Type", "application/octet-stream")
		c.File(path)
		return
	}
	c.String(http.StatusNotFound, "file not found")
}

// findFilePart looks under dir/deploy/fileparts/shared/<epoch>/ for
// the nibble-prefixed path a/b/cdefgh/<sha512>.
func (s *Server) findFilePart(dir, digest string) string {
	shared := filepath.Join(dir, "deploy", "fileparts", "shared")
	epochs, err := os.ReadDir(shared)
	if err != nil {
		return ""
	}

	suffix := filepath.Join(digest[0:1], digest[1:2], digest[2:8], digest)
	for _, epoch := range epochs {
		if !epoch.IsDir() {
			continue
		}
		candidate := filepath.Join(shared, epoch.Name(), suffix)
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate
		}
	}
	return ""
}

func verifySHA512(path, digest string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	h := sha512.New()
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	return hex.EncodeToString(h.Sum(nil)) == digest
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
