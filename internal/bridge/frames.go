package bridge

import (
	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/internal/tracker"
	"github.com/MrWong99/flanker/pkg/flanking"
)

// Frame types sent by the host.
const (
	FrameTarget = "target"
	FrameUpdate = "update"
	FrameAttack = "attack"
)

// Reply types sent back to the host.
const (
	ReplyFlag  = "flag"
	ReplyRoll  = "roll"
	ReplyError = "error"
)

// Frame is one host event received over the websocket.
//
//	{"type":"target","user_id":"u","scene":{...},"target_id":"t","targeted":true}
//	{"type":"update","user_id":"u","scene":{...},"target_ids":["t1","t2"]}
//	{"type":"attack","user_id":"u","item":{...},"roll":{"parts":["@mod"]}}
type Frame struct {
	Type      string              `json:"type"`
	UserID    string              `json:"user_id"`
	Scene     *scene.Scene        `json:"scene,omitempty"`
	TargetID  string              `json:"target_id,omitempty"`
	Targeted  bool                `json:"targeted,omitempty"`
	TargetIDs []string            `json:"target_ids,omitempty"`
	Item      *flanking.Item      `json:"item,omitempty"`
	Roll      *tracker.AttackRoll `json:"roll,omitempty"`
}

// FlagReply reports the flag state after a target or update frame. One
// reply is sent per evaluated target.
type FlagReply struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Flanked  bool   `json:"flanked"`
	Count    int    `json:"count"`
	Bonus    int    `json:"bonus"`
}

// RollReply returns the possibly amended attack roll.
type RollReply struct {
	Type string              `json:"type"`
	Roll *tracker.AttackRoll `json:"roll"`
}

// ErrorReply reports a frame that could not be handled. The connection stays
// open.
type ErrorReply struct {
	Type     string `json:"type"`
	Frame    string `json:"frame,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Error    string `json:"error"`
}

func flagReply(targetID string, res flanking.Result) FlagReply {
	return FlagReply{
		Type:     ReplyFlag,
		TargetID: targetID,
		Flanked:  res.Flanked,
		Count:    res.Count,
		Bonus:    res.Bonus,
	}
}

func errorReply(frameType string, err error) ErrorReply {
	return ErrorReply{Type: ReplyError, Frame: frameType, Error: err.Error()}
}
