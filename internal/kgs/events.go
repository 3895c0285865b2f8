package kgs

import "log/slog"

// Message is one JSON object exchanged with the KGS API: either an
// inbound dispatched message or an outbound POST body. Every message
// carries a "type" discriminator.
type Message map[string]any

// Type returns the message's "type" field, or "" if absent/not a string.
func (m Message) Type() string {
	s, _ := m["type"].(string)
	return s
}

func (m Message) str(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m Message) num(key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// childNodeID reads a CHILD_ADDED event's new-node id, accepting either
// spelling the upstream KGS server has historically used.
func (m Message) childNodeID() (int, bool) {
	if v, ok := m.num("childNodeId"); ok {
		return v, ok
	}
	return m.num("childNodeID")
}

// propFromMessage decodes the "prop" field of a PROP_ADDED/PROP_CHANGED/
// PROP_REMOVED event into an SgfProp.
func propFromMessage(raw any) SgfProp {
	m, _ := raw.(map[string]any)
	p := SgfProp{}
	if m == nil {
		return p
	}
	p.Name, _ = m["name"].(string)
	p.Color, _ = m["color"].(string)
	if loc, ok := m["loc"].(map[string]any); ok {
		x, _ := loc["x"].(float64)
		y, _ := loc["y"].(float64)
		l := Loc{X: int(x), Y: int(y)}
		p.Loc = &l
	}
	if text, ok := m["text"].(string); ok {
		p.Text = &text
	}
	if iv, ok := m["int"].(float64); ok {
		n := int(iv)
		p.Int = &n
	}
	if fv, ok := m["float"].(float64); ok {
		p.Float = &fv
	}
	return p
}

// applySgfEvent applies one sgfEvents entry to game, per spec.md §4.5.
func applySgfEvent(game *SgfGame, ev Message) {
	switch ev.Type() {
	case "CHILD_ADDED":
		nodeID, _ := ev.num("nodeId")
		childID, ok := ev.childNodeID()
		if !ok {
			slog.Warn("kgs: CHILD_ADDED missing child node id", "event", ev)
			return
		}
		pos, _ := ev.num("position") // defaults to 0 if absent
		game.applyChildAdded(nodeID, childID, pos)

	case "CHILDREN_REORDERED":
		nodeID, _ := ev.num("nodeId")
		_ = nodeID
		raw, _ := ev["children"].([]any)
		children := make([]int, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				children = append(children, int(f))
			}
		}
		game.applyChildrenReordered(children)

	case "ACTIVATED":
		nodeID, _ := ev.num("nodeId")
		game.applyActivated(nodeID)

	case "PROP_ADDED", "PROP_CHANGED":
		nodeID, _ := ev.num("nodeId")
		game.applyPropAdded(nodeID, propFromMessage(ev["prop"]))

	case "PROP_REMOVED":
		nodeID, _ := ev.num("nodeId")
		game.applyPropRemoved(nodeID, propFromMessage(ev["prop"]))

	case "PROP_GROUP_ADDED":
		nodeID, _ := ev.num("nodeId")
		for _, raw := range asSlice(ev["props"]) {
			game.applyPropAdded(nodeID, propFromMessage(raw))
		}

	case "PROP_GROUP_REMOVED":
		nodeID, _ := ev.num("nodeId")
		for _, raw := range asSlice(ev["props"]) {
			game.applyPropRemoved(nodeID, propFromMessage(raw))
		}

	default:
		slog.Debug("kgs: unhandled sgf event type", "type", ev.Type())
	}
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
