package scene

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/MrWong99/flanker/pkg/flanking"
)

// ─────────────────────────────────────────────────────────────────────────────
// Foundry VTT
// ─────────────────────────────────────────────────────────────────────────────

// foundryScene is a Foundry VTT scene export, optionally carrying the actors
// its tokens refer to. Unknown fields are silently ignored.
type foundryScene struct {
	ID   string `json:"_id"`
	Name string `json:"name"`

	// Grid is an object {size, distance} on Foundry v10+ and a plain pixel
	// size on older versions, where the distance lives in GridDistance.
	Grid         json.RawMessage `json:"grid"`
	GridDistance float64         `json:"gridDistance"`

	Tokens []foundryToken `json:"tokens"`
	Actors []foundryActor `json:"actors"`
}

type foundryGrid struct {
	Size     float64 `json:"size"`
	Distance float64 `json:"distance"`
}

type foundryToken struct {
	ID          string  `json:"_id"`
	Name        string  `json:"name"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Elevation   float64 `json:"elevation"`
	Disposition int     `json:"disposition"`
	ActorID     string  `json:"actorId"`

	// Actor is the embedded actor snapshot sent by the bridge module. When
	// absent, the actor is looked up in foundryScene.Actors by ActorID.
	Actor *foundryActor `json:"actor"`
}

type foundryActor struct {
	ID      string          `json:"_id"`
	Effects []foundryEffect `json:"effects"`
	Items   []foundryItem   `json:"items"`
}

type foundryEffect struct {
	// Name replaced Label in Foundry v11.
	Name  string `json:"name"`
	Label string `json:"label"`
}

type foundryItem struct {
	Name   string            `json:"name"`
	System foundryItemSystem `json:"system"`
}

type foundryItemSystem struct {
	ActionType string            `json:"actionType"`
	Properties foundryProperties `json:"properties"`
	Range      struct {
		Value *float64 `json:"value"`
	} `json:"range"`
}

// foundryProperties accepts both the dnd5e v2 object form {"rch": true} and
// the v3 array form ["rch", "thr"].
type foundryProperties map[string]bool

func (p *foundryProperties) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := make(foundryProperties)
	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		for _, k := range list {
			out[k] = true
		}
	default:
		var m map[string]bool
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		for k, v := range m {
			out[k] = v
		}
	}
	*p = out
	return nil
}

// ImportFoundry converts a Foundry VTT scene export (JSON) into a [Scene].
//
// Foundry stores token positions as the top-left corner in pixels and token
// sizes in grid cells; both are converted to the centre and pixel size that
// [flanking.Token] expects.
func ImportFoundry(r io.Reader) (*Scene, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("scene: foundry vtt: read input: %w", err)
	}

	var fs foundryScene
	if err := json.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("scene: foundry vtt: parse json: %w", err)
	}

	grid, err := fs.grid()
	if err != nil {
		return nil, fmt.Errorf("scene: foundry vtt: %w", err)
	}

	actors := make(map[string]*foundryActor, len(fs.Actors))
	for i := range fs.Actors {
		actors[fs.Actors[i].ID] = &fs.Actors[i]
	}

	s := &Scene{ID: fs.ID, Name: fs.Name, Grid: grid}
	for _, ft := range fs.Tokens {
		actor := ft.Actor
		if actor == nil {
			actor = actors[ft.ActorID]
		}
		s.Tokens = append(s.Tokens, convertToken(ft, actor, grid))
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scene: foundry vtt: %w", err)
	}
	return s, nil
}

func (fs foundryScene) grid() (flanking.Grid, error) {
	g := flanking.Grid{Distance: fs.GridDistance}
	raw := bytes.TrimSpace(fs.Grid)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '{':
		var fg foundryGrid
		if err := json.Unmarshal(raw, &fg); err != nil {
			return g, fmt.Errorf("parse grid: %w", err)
		}
		g.Size = fg.Size
		if fg.Distance > 0 {
			g.Distance = fg.Distance
		}
	default:
		if err := json.Unmarshal(raw, &g.Size); err != nil {
			return g, fmt.Errorf("parse grid size: %w", err)
		}
	}
	return g, nil
}

func convertToken(ft foundryToken, actor *foundryActor, grid flanking.Grid) flanking.Token {
	w := ft.Width * grid.Size
	h := ft.Height * grid.Size
	tok := flanking.Token{
		ID:          ft.ID,
		Name:        ft.Name,
		Center:      flanking.Point{X: ft.X + w/2, Y: ft.Y + h/2},
		Width:       w,
		Height:      h,
		Elevation:   ft.Elevation,
		Disposition: flanking.Disposition(ft.Disposition),
	}
	if actor == nil {
		return tok
	}

	for _, e := range actor.Effects {
		label := e.Name
		if label == "" {
			label = e.Label
		}
		tok.Effects = append(tok.Effects, flanking.Effect{Label: label})
	}
	for _, it := range actor.Items {
		item := flanking.Item{
			Name:       it.Name,
			ActionType: it.System.ActionType,
			Properties: flanking.ItemProperties{
				Reach:  it.System.Properties["rch"],
				Thrown: it.System.Properties["thr"],
			},
		}
		if v := it.System.Range.Value; v != nil {
			item.Range = *v
		}
		tok.Items = append(tok.Items, item)
	}
	return tok
}
