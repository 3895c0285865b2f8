package kgs

import (
	"context"
	"fmt"
)

// CreateDemo posts CHALLENGE_CREATE for a "demonstration" game in room,
// waits for the GAME_NOTIFY acknowledging the challenge, then waits for
// the GAME_JOIN whose channelId matches the newly created game, and
// returns its channel id.
func (s *Session) CreateDemo(ctx context.Context, room string, size int, komi float64, timeSystem string, mainTime, byoyomiTime int, byoyomiStones int) (int, error) {
	s.startWait()
	ok, err := s.post(ctx, Message{
		"type":          "CHALLENGE_CREATE",
		"roomId":        room,
		"gameType":      "demonstration",
		"rules":         "chinese",
		"size":          size,
		"komi":          komi,
		"timeSystem":    timeSystem,
		"mainTime":      mainTime,
		"byoYomiTime":   byoyomiTime,
		"byoYomiStones": byoyomiStones,
	})
	if err != nil || !ok {
		s.cancelWait()
		return 0, fmt.Errorf("posting CHALLENGE_CREATE: ok=%v err=%w", ok, err)
	}

	notify, ok := s.endWait(func(m Message) bool { return m.Type() == "GAME_NOTIFY" })
	if !ok {
		return 0, fmt.Errorf("kgs: no GAME_NOTIFY for CHALLENGE_CREATE")
	}
	channelID, ok := notify.num("channelId")
	if !ok {
		return 0, fmt.Errorf("kgs: GAME_NOTIFY missing channelId")
	}

	s.startWait()
	_, ok = s.endWait(func(m Message) bool {
		id, numOK := m.num("channelId")
		return m.Type() == "GAME_JOIN" && numOK && id == channelID
	})
	if !ok {
		return 0, fmt.Errorf("kgs: no GAME_JOIN for channel %d", channelID)
	}

	return channelID, nil
}

// DemoSetInfo posts a PROP_GROUP_ADDED to node 0 with the demo's player
// names (truncated to 10 characters, matching the KGS client display
// limit), place, and game title.
func (s *Session) DemoSetInfo(ctx context.Context, channelID int, whiteName, blackName, place, gameName string) error {
	props := []Message{
		{"name": "PLAYERNAME", "color": "white", "text": truncate(whiteName, 10)},
		{"name": "PLAYERNAME", "color": "black", "text": truncate(blackName, 10)},
		{"name": "PLACE", "text": place},
		{"name": "GAMENAME", "text": gameName},
	}
	_, err := s.post(ctx, Message{
		"type":      "KGS_SGF_CHANGE",
		"channelId": channelID,
		"sgfEvents": []Message{{"type": "PROP_GROUP_ADDED", "nodeId": 0, "props": props}},
	})
	return err
}

// DemoPlayMove plays one move on the demo board for colour ("black" or
// "white") at a GTP coordinate such as "K10" or "PASS", and waits for the
// echoing GAME_UPDATE that activates the newly created node.
func (s *Session) DemoPlayMove(ctx context.Context, channelID int, colour, place string, nextNodeID int) error {
	loc, isPass, err := GTPToLoc(place)
	if err != nil {
		return fmt.Errorf("translating move %q: %w", place, err)
	}

	prop := Message{"name": "MOVE", "color": colour}
	if isPass {
		prop["text"] = "PASS"
	} else {
		prop["loc"] = Message{"x": loc.X, "y": loc.Y}
	}

	s.startWait()
	ok, err := s.post(ctx, Message{
		"type":      "KGS_SGF_CHANGE",
		"channelId": channelID,
		"sgfEvents": []Message{
			{"type": "CHILD_ADDED", "nodeId": s.activeNodeOf(channelID), "childNodeId": nextNodeID},
			{"type": "PROP_ADDED", "nodeId": nextNodeID, "prop": prop},
			{"type": "ACTIVATED", "nodeId": nextNodeID},
		},
	})
	if err != nil || !ok {
		s.cancelWait()
		return fmt.Errorf("posting KGS_SGF_CHANGE move: ok=%v err=%w", ok, err)
	}

	_, found := s.endWait(func(m Message) bool {
		id, numOK := m.num("channelId")
		if m.Type() != "GAME_UPDATE" || !numOK || id != channelID {
			return false
		}
		return activates(m, nextNodeID)
	})
	if !found {
		return fmt.Errorf("kgs: no GAME_UPDATE activating node %d", nextNodeID)
	}
	return nil
}

// DemoJumpToMove walks n first-position children down from the root and
// activates the resulting node, waiting for the echo.
func (s *Session) DemoJumpToMove(ctx context.Context, channelID int, n int) error {
	game := s.Game(channelID)
	if game == nil {
		return fmt.Errorf("kgs: unknown demo channel %d", channelID)
	}
	node := 0
	for i := 0; i < n; i++ {
		next := game.FirstChild(node)
		if next < 0 {
			return fmt.Errorf("kgs: move %d has no first-position child", i)
		}
		node = next
	}

	s.startWait()
	ok, err := s.post(ctx, Message{
		"type":      "KGS_SGF_CHANGE",
		"channelId": channelID,
		"sgfEvents": []Message{{"type": "ACTIVATED", "nodeId": node}},
	})
	if err != nil || !ok {
		s.cancelWait()
		return fmt.Errorf("posting KGS_SGF_CHANGE jump: ok=%v err=%w", ok, err)
	}

	_, found := s.endWait(func(m Message) bool {
		id, numOK := m.num("channelId")
		if m.Type() != "GAME_UPDATE" || !numOK || id != channelID {
			return false
		}
		return activates(m, node)
	})
	if !found {
		return fmt.Errorf("kgs: no GAME_UPDATE for jump to move %d", n)
	}
	return nil
}

// DemoTimeLeft posts a one-shot clock update; no reply is awaited.
func (s *Session) DemoTimeLeft(ctx context.Context, channelID int, colour string, mainTime, periods int) {
	_, _ = s.post(ctx, Message{
		"type": "GAME_TIME_LEFT", "channelId": channelID,
		"color": colour, "time": mainTime, "periods": periods,
	})
}

// DemoSetResult posts the final result string (e.g. "W+Resign"); no
// reply is awaited.
func (s *Session) DemoSetResult(ctx context.Context, channelID int, result string) {
	_, _ = s.post(ctx, Message{"type": "GAME_STATE_CHANGE", "channelId": channelID, "state": "COUNTING", "result": result})
}

// Chat posts a chat message to the demo room; fire-and-forget.
func (s *Session) Chat(ctx context.Context, channelID int, text string) {
	_, _ = s.post(ctx, Message{"type": "CHAT", "channelId": channelID, "text": text})
}

// SaveGame posts a request to persist the demo game on the remote server;
// no reply is awaited.
func (s *Session) SaveGame(ctx context.Context, channelID int) {
	_, _ = s.post(ctx, Message{"type": "GAME_LIST_ENTRY_SET_FLAGS", "channelId": channelID, "save": true})
}

func (s *Session) activeNodeOf(channelID int) int {
	game := s.Game(channelID)
	if game == nil {
		return 0
	}
	return game.ActiveNode()
}

// activates reports whether m's sgfEvents include an ACTIVATED event for
// nodeID. Predicates run before the message's events reach the mirror.
func activates(m Message, nodeID int) bool {
	for _, raw := range asSlice(m["sgfEvents"]) {
		ev, _ := raw.(map[string]any)
		id, ok := Message(ev).num("nodeId")
		if ok && Message(ev).Type() == "ACTIVATED" && id == nodeID {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
