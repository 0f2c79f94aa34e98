package agent

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/inventory"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/protocol"
	"github.com/cuemby/fleetagent/pkg/target"
	"github.com/cuemby/fleetagent/pkg/tasks/inventorytask"
)

// submitterFor picks the submission path for tgt's kind (spec §4.G
// step 7).
func (a *Agent) submitterFor(tgt *target.Target) inventorytask.Submitter {
	switch tgt.Kind() {
	case config.TargetServer:
		return &serverSubmitter{agent: a, target: tgt}
	case config.TargetLocal:
		return &localSubmitter{path: tgt.Path()}
	default:
		return &listenerSubmitter{target: tgt}
	}
}

// serverSubmitter POSTs the inventory to a remote server: the JSON
// protocol for GLPI servers, the legacy OCS XML envelope otherwise.
type serverSubmitter struct {
	agent  *Agent
	target *target.Target
}

func (s *serverSubmitter) Submit(ctx context.Context, doc *inventory.Document, env inventory.Envelope, format string) error {
	client, err := s.agent.newClient(s.target)
	if err != nil {
		return err
	}

	if format == "json" {
		resp, err := client.Send(ctx, protocol.ActionInventory, env)
		if err != nil {
			return err
		}
		if !resp.OK() {
			return fmt.Errorf("agent: inventory rejected: %s", resp.Message)
		}
		return nil
	}

	body, err := doc.Render("xml")
	if err != nil {
		return err
	}
	return client.SendLegacyInventory(ctx, body)
}

// localSubmitter writes the document to a directory or stdout.
type localSubmitter struct {
	path string
}

func (s *localSubmitter) Submit(_ context.Context, doc *inventory.Document, _ inventory.Envelope, format string) error {
	return doc.Save(s.path, format)
}

// listenerSubmitter renders the document and saves it into the
// listener target's store under "inventory-<deviceid>".
type listenerSubmitter struct {
	target *target.Target
}

func (s *listenerSubmitter) Submit(_ context.Context, doc *inventory.Document, env inventory.Envelope, format string) error {
	body, err := doc.Render(format)
	if err != nil {
		return err
	}
	if err := s.target.Store().Save("inventory-"+env.DeviceID, body); err != nil {
		return err
	}
	log.WithTarget(s.target.ID()).Debug().Str("device", env.DeviceID).Msg("inventory handed to listener")
	return nil
}
