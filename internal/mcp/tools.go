package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/pkg/flanking"
)

// Tool names.
const (
	ToolCheckFlanking   = "check_flanking"
	ToolSceneCandidates = "scene_candidates"
)

// Scene formats accepted by the tools.
const (
	formatNative  = "native"
	formatFoundry = "foundry"
)

// sceneArgs is the input shared by both tools.
type sceneArgs struct {
	// Scene is the battlefield snapshot as YAML or JSON text.
	Scene string `json:"scene" jsonschema:"battlefield snapshot as YAML or JSON text with grid and tokens"`

	// Format selects the scene parser: "native" (default) or "foundry".
	Format string `json:"format,omitempty" jsonschema:"scene format: native (default) or foundry for a Foundry VTT scene export"`

	// Target is a token ID or name.
	Target string `json:"target" jsonschema:"ID or name of the creature being attacked"`
}

// checkFlankingArgs is the input of the "check_flanking" tool.
type checkFlankingArgs struct {
	sceneArgs

	// MaxBonus overrides the configured bonus cap when positive. Zero or
	// omitted keeps the server setting, as on POST /v1/evaluate.
	MaxBonus int `json:"max_bonus,omitempty" jsonschema:"cap on the flanking bonus when positive; the server setting is used when omitted or zero"`
}

// checkFlankingResult is the output of the "check_flanking" tool.
type checkFlankingResult struct {
	TargetID   string   `json:"target_id"`
	Target     string   `json:"target"`
	Flanked    bool     `json:"flanked"`
	Count      int      `json:"count"`
	Bonus      int      `json:"bonus"`
	Candidates []string `json:"candidates"`
	Summary    string   `json:"summary"`
}

// sceneCandidatesResult is the output of the "scene_candidates" tool.
type sceneCandidatesResult struct {
	TargetID string                    `json:"target_id"`
	Target   string                    `json:"target"`
	States   []flanking.CandidateState `json:"states"`
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: ToolCheckFlanking,
		Description: "Checks whether a creature is flanked: at least two hostile, active attackers within melee reach " +
			"standing on opposite sides of it. Returns the melee attack bonus the attackers gain.",
	}, s.checkFlanking)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name: ToolSceneCandidates,
		Description: "Lists every token on the scene with whether it is an enemy of the target, " +
			"able to act, and within melee reach of it.",
	}, s.sceneCandidates)
}

func (s *Server) checkFlanking(ctx context.Context, _ *mcpsdk.CallToolRequest, args checkFlankingArgs) (*mcpsdk.CallToolResult, checkFlankingResult, error) {
	res, err := s.evaluate(ctx, ToolCheckFlanking, args.sceneArgs, args.MaxBonus)
	if err != nil {
		s.metrics.RecordToolCall(ctx, ToolCheckFlanking, "error")
		return nil, checkFlankingResult{}, err
	}

	out := checkFlankingResult{
		TargetID:   res.TargetID,
		Target:     res.Target,
		Flanked:    res.Flanked,
		Count:      res.Count,
		Bonus:      res.Bonus,
		Candidates: make([]string, 0, res.Count),
		Summary:    res.Summary(),
	}
	for _, c := range res.Candidates() {
		out.Candidates = append(out.Candidates, c.Name)
	}

	s.metrics.RecordToolCall(ctx, ToolCheckFlanking, "ok")
	return textResult(out), out, nil
}

func (s *Server) sceneCandidates(ctx context.Context, _ *mcpsdk.CallToolRequest, args sceneArgs) (*mcpsdk.CallToolResult, sceneCandidatesResult, error) {
	res, err := s.evaluate(ctx, ToolSceneCandidates, args, 0)
	if err != nil {
		s.metrics.RecordToolCall(ctx, ToolSceneCandidates, "error")
		return nil, sceneCandidatesResult{}, err
	}

	out := sceneCandidatesResult{TargetID: res.TargetID, Target: res.Target, States: res.States}
	if out.States == nil {
		out.States = []flanking.CandidateState{}
	}
	s.metrics.RecordToolCall(ctx, ToolSceneCandidates, "ok")
	return textResult(out), out, nil
}

// evaluate parses the scene, resolves the target and runs a stateless
// evaluation inside a span named after tool.
func (s *Server) evaluate(ctx context.Context, tool string, args sceneArgs, maxBonus int) (_ flanking.Result, err error) {
	ctx, span := observe.StartSpan(ctx, "mcp.tool."+tool, observe.AttrTool.String(tool))
	defer func() { observe.EndSpan(span, err) }()

	sc, err := parseScene(args.Scene, args.Format)
	if err != nil {
		return flanking.Result{}, err
	}
	if args.Target == "" {
		return flanking.Result{}, errors.New("target is required")
	}
	tok, err := sc.Resolve(args.Target)
	if err != nil {
		return flanking.Result{}, err
	}

	res, err := s.tracker.EvaluateWith(ctx, sc, tok.ID, s.tracker.Settings().WithMaxBonus(maxBonus))
	if err != nil {
		return flanking.Result{}, err
	}
	span.SetAttributes(observe.ResultAttributes(res)...)
	s.logger.DebugContext(ctx, "mcp: evaluated scene", "scene", sc.ID, "summary", res.Summary())
	return res, nil
}

// parseScene decodes the scene text in the given format. Native scenes are
// YAML, which also accepts JSON.
func parseScene(text, format string) (*scene.Scene, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("scene is required")
	}
	switch strings.ToLower(format) {
	case "", formatNative:
		return scene.LoadFromReader(strings.NewReader(text))
	case formatFoundry:
		return scene.ImportFoundry(strings.NewReader(text))
	default:
		return nil, fmt.Errorf("unknown scene format %q (want %s or %s)", format, formatNative, formatFoundry)
	}
}

// textResult renders v as the JSON text content of a tool result.
func textResult(v any) *mcpsdk.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", v))
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}
