package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/flanker/internal/announce"
	"github.com/MrWong99/flanker/internal/flagstore"
	"github.com/MrWong99/flanker/internal/observe"
	"github.com/MrWong99/flanker/internal/scene"
	"github.com/MrWong99/flanker/pkg/flanking"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// flakyStore wraps a MemStore and fails selected operations.
type flakyStore struct {
	flagstore.MemStore
	failGet, failSet, failDelete bool
}

var errDown = errors.New("connection refused")

func (s *flakyStore) Get(ctx context.Context, key string) (int, bool, error) {
	if s.failGet {
		return 0, false, errors.Join(flagstore.ErrUnavailable, errDown)
	}
	return s.MemStore.Get(ctx, key)
}

func (s *flakyStore) Set(ctx context.Context, key string, value int) error {
	if s.failSet {
		return errors.Join(flagstore.ErrUnavailable, errDown)
	}
	return s.MemStore.Set(ctx, key, value)
}

func (s *flakyStore) Delete(ctx context.Context, key string) error {
	if s.failDelete {
		return errors.Join(flagstore.ErrUnavailable, errDown)
	}
	return s.MemStore.Delete(ctx, key)
}

// recorder collects announced events.
type recorder struct {
	mu     sync.Mutex
	events []announce.Event
	err    error
}

func (r *recorder) Announce(_ context.Context, e announce.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestTracker(t *testing.T, store flagstore.Store, opts ...Option) *Tracker {
	t.Helper()
	opts = append([]Option{WithMetrics(testMetrics(t))}, opts...)
	return New(store, StaticSettings{MaxBonus: 4}, opts...)
}

func foe(id string, x, y float64, effects ...flanking.Effect) flanking.Token {
	return flanking.Token{
		ID: id, Name: id, Center: flanking.Point{X: x, Y: y},
		Width: 1, Height: 1, Disposition: flanking.DispositionHostile, Effects: effects,
	}
}

// battle returns a scene whose target occupies (0,0)-(5,5) on a unit grid.
func battle(foes ...flanking.Token) *scene.Scene {
	target := flanking.Token{
		ID: "target", Name: "Target", Center: flanking.Point{X: 2.5, Y: 2.5},
		Width: 5, Height: 5, Disposition: flanking.DispositionFriendly,
	}
	return &scene.Scene{
		ID:     "scene",
		Grid:   flanking.Grid{Distance: 1, Size: 1},
		Tokens: append([]flanking.Token{target}, foes...),
	}
}

var (
	flankedScene   = battle(foe("A", -3, 2), foe("B", 8, 2))
	threeScene     = battle(foe("A", -3, 2), foe("B", 8, 2), foe("C", 2, -3))
	sameSideScene  = battle(foe("A", 1, -3), foe("B", 4, -3))
	loneFoeScene   = battle(foe("A", -3, 2))
	knockedOut     = battle(foe("A", -3, 2), foe("B", 8, 2, flanking.Effect{Label: "Unconscious"}))
	userKey        = flagstore.Key("user-1")
	meleeWeapon    = flanking.Item{Name: "Longsword", ActionType: flanking.ActionMeleeWeapon}
	rangedWeapon   = flanking.Item{Name: "Longbow", ActionType: "rwak"}
	ctxBackground  = context.Background()
)

func flag(t *testing.T, s flagstore.Store) (int, bool) {
	t.Helper()
	v, ok, err := s.Get(ctxBackground, userKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return v, ok
}

// ---------------------------------------------------------------------------
// CheckFlanking
// ---------------------------------------------------------------------------

func TestCheckFlanking_SetsOrDeletesFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		scene     *scene.Scene
		wantFlag  int
		wantFound bool
	}{
		{name: "opposite pair", scene: flankedScene, wantFlag: 2, wantFound: true},
		{name: "three attackers", scene: threeScene, wantFlag: 3, wantFound: true},
		{name: "same side", scene: sameSideScene},
		{name: "single attacker", scene: loneFoeScene},
		{name: "unconscious attacker", scene: knockedOut},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := flagstore.NewMemStore()
			// A stale flag must be cleared when the target is not flanked.
			_ = store.Set(ctxBackground, userKey, 9)

			tr := newTestTracker(t, store)
			res, err := tr.CheckFlanking(ctxBackground, "user-1", tc.scene, "target")
			if err != nil {
				t.Fatalf("CheckFlanking: %v", err)
			}
			if res.Bonus != tc.wantFlag {
				t.Errorf("Bonus = %d, want %d", res.Bonus, tc.wantFlag)
			}
			got, found := flag(t, store)
			if found != tc.wantFound || got != tc.wantFlag {
				t.Errorf("flag = %d,%v, want %d,%v", got, found, tc.wantFlag, tc.wantFound)
			}
		})
	}
}

func TestCheckFlanking_NeverStoresZero(t *testing.T) {
	t.Parallel()
	store := flagstore.NewMemStore()
	tr := newTestTracker(t, store)

	if _, err := tr.CheckFlanking(ctxBackground, "user-1", sameSideScene, "target"); err != nil {
		t.Fatalf("CheckFlanking: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("store holds %d flags, want 0", store.Len())
	}
}

func TestCheckFlanking_UsesCurrentSettings(t *testing.T) {
	t.Parallel()
	store := flagstore.NewMemStore()
	settings := NewAtomicSettings(flanking.Options{MaxBonus: 4})
	tr := New(store, settings, WithMetrics(testMetrics(t)))

	if _, err := tr.CheckFlanking(ctxBackground, "user-1", threeScene, "target"); err != nil {
		t.Fatal(err)
	}
	if v, _ := flag(t, store); v != 3 {
		t.Fatalf("flag = %d, want 3", v)
	}

	settings.Store(flanking.Options{MaxBonus: 2})
	if _, err := tr.CheckFlanking(ctxBackground, "user-1", threeScene, "target"); err != nil {
		t.Fatal(err)
	}
	if v, _ := flag(t, store); v != 2 {
		t.Errorf("flag after lowering max = %d, want 2", v)
	}
}

func TestNew_DefaultSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings Settings
	}{
		{name: "nil settings", settings: nil},
		{name: "zero atomic settings", settings: &AtomicSettings{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tr := New(flagstore.NewMemStore(), tc.settings, WithMetrics(testMetrics(t)))

			if diff := cmp.Diff(flanking.DefaultOptions(), tr.Settings()); diff != "" {
				t.Errorf("settings mismatch (-want +got):\n%s", diff)
			}
			res, err := tr.CheckFlanking(ctxBackground, "user-1", threeScene, "target")
			if err != nil {
				t.Fatalf("CheckFlanking: %v", err)
			}
			if res.Bonus != 3 {
				t.Errorf("Bonus = %d, want 3 under the default cap", res.Bonus)
			}
		})
	}
}

// TestCheckFlanking_RecordsSpan swaps the global tracer provider and must
// not run in parallel.
func TestCheckFlanking_RecordsSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})

	tr := newTestTracker(t, flagstore.NewMemStore())
	if _, err := tr.CheckFlanking(ctxBackground, "user-1", threeScene, "target"); err != nil {
		t.Fatalf("CheckFlanking: %v", err)
	}
	if _, err := tr.CheckFlanking(ctxBackground, "user-1", threeScene, "ghost"); err == nil {
		t.Fatal("CheckFlanking(ghost) succeeded")
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	for _, s := range spans {
		if s.Name != "tracker.CheckFlanking" {
			t.Errorf("span name = %q", s.Name)
		}
	}

	got := make(map[string]string)
	for _, kv := range spans[0].Attributes {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{
		"user_id":    "user-1",
		"target_id":  "target",
		"flanked":    "true",
		"bonus":      "3",
		"candidates": "3",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("span attributes mismatch (-want +got):\n%s", diff)
	}
	if spans[0].Status.Code == codes.Error {
		t.Errorf("successful evaluation span status = %+v", spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || !strings.Contains(spans[1].Status.Description, "token not found") {
		t.Errorf("unknown target span status = %+v, want error", spans[1].Status)
	}
}

func TestCheckFlanking_UnknownTarget(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t, flagstore.NewMemStore())

	if _, err := tr.CheckFlanking(ctxBackground, "user-1", flankedScene, "ghost"); !errors.Is(err, scene.ErrTokenNotFound) {
		t.Errorf("err = %v, want ErrTokenNotFound", err)
	}
	if _, err := tr.CheckFlanking(ctxBackground, "user-1", nil, "target"); !errors.Is(err, scene.ErrTokenNotFound) {
		t.Errorf("nil scene err = %v, want ErrTokenNotFound", err)
	}
}

func TestCheckFlanking_StoreUnavailable(t *testing.T) {
	t.Parallel()

	t.Run("set", func(t *testing.T) {
		t.Parallel()
		tr := newTestTracker(t, &flakyStore{failSet: true})
		res, err := tr.CheckFlanking(ctxBackground, "user-1", flankedScene, "target")
		if !errors.Is(err, flagstore.ErrUnavailable) {
			t.Fatalf("err = %v, want ErrUnavailable", err)
		}
		if res.Bonus != 2 {
			t.Errorf("result bonus = %d, want 2 even when the store fails", res.Bonus)
		}
	})
	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		tr := newTestTracker(t, &flakyStore{failDelete: true})
		if _, err := tr.CheckFlanking(ctxBackground, "user-1", sameSideScene, "target"); !errors.Is(err, flagstore.ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	})
}

func TestCheckFlanking_LogsSummaryAtDebug(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := newTestTracker(t, flagstore.NewMemStore(), WithLogger(logger))

	if _, err := tr.CheckFlanking(ctxBackground, "user-1", flankedScene, "target"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Target: surrounded by 2 actors (flanking)") {
		t.Errorf("debug log missing summary: %s", buf.String())
	}
}

// ---------------------------------------------------------------------------
// OnTargetToken / OnUpdateToken
// ---------------------------------------------------------------------------

func TestOnTargetToken(t *testing.T) {
	t.Parallel()
	store := flagstore.NewMemStore()
	tr := newTestTracker(t, store)

	if _, err := tr.OnTargetToken(ctxBackground, "user-1", flankedScene, "target", true); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if v, ok := flag(t, store); !ok || v != 2 {
		t.Fatalf("flag after acquire = %d,%v, want 2,true", v, ok)
	}

	// Release deletes the flag even though the target is still flanked.
	res, err := tr.OnTargetToken(ctxBackground, "user-1", flankedScene, "target", false)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Target != "Target" || res.Bonus != 0 {
		t.Errorf("release result = %+v", res)
	}
	if _, ok := flag(t, store); ok {
		t.Error("flag still present after release")
	}
}

func TestOnTargetToken_ReleaseStoreUnavailable(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t, &flakyStore{failDelete: true})

	if _, err := tr.OnTargetToken(ctxBackground, "user-1", nil, "target", false); !errors.Is(err, flagstore.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestOnUpdateToken_LastWriteWins(t *testing.T) {
	t.Parallel()
	store := flagstore.NewMemStore()
	tr := newTestTracker(t, store)

	sc := battle(foe("A", -3, 2), foe("B", 8, 2))
	// A second target far away from everyone.
	sc.Tokens = append(sc.Tokens, flanking.Token{
		ID: "far", Name: "Far", Center: flanking.Point{X: 100, Y: 100}, Width: 1, Height: 1,
		Disposition: flanking.DispositionFriendly,
	})

	results, err := tr.OnUpdateToken(ctxBackground, "user-1", sc, []string{"far", "target"})
	if err != nil {
		t.Fatalf("OnUpdateToken: %v", err)
	}
	gotBonuses := []int{results[0].Bonus, results[1].Bonus}
	if diff := cmp.Diff([]int{0, 2}, gotBonuses); diff != "" {
		t.Errorf("bonuses mismatch (-want +got):\n%s", diff)
	}
	if v, ok := flag(t, store); !ok || v != 2 {
		t.Errorf("flag = %d,%v, want the last target's bonus 2", v, ok)
	}

	if _, err := tr.OnUpdateToken(ctxBackground, "user-1", sc, []string{"target", "far"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := flag(t, store); ok {
		t.Error("flag present although the last evaluated target is not flanked")
	}
}

func TestOnUpdateToken_JoinsErrors(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t, flagstore.NewMemStore())

	results, err := tr.OnUpdateToken(ctxBackground, "user-1", flankedScene, []string{"ghost", "target"})
	if !errors.Is(err, scene.ErrTokenNotFound) {
		t.Errorf("err = %v, want ErrTokenNotFound", err)
	}
	if len(results) != 1 || results[0].Bonus != 2 {
		t.Errorf("results = %+v, want the remaining target evaluated", results)
	}

	results, err = tr.OnUpdateToken(ctxBackground, "user-1", flankedScene, nil)
	if err != nil || len(results) != 0 {
		t.Errorf("no targets = %v, %v, want empty and nil", results, err)
	}
}

// ---------------------------------------------------------------------------
// AttackToHit
// ---------------------------------------------------------------------------

func TestAttackToHit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		flag      int
		item      flanking.Item
		roll      *AttackRoll
		wantParts []string
	}{
		{name: "melee with bonus", flag: 3, item: meleeWeapon, roll: &AttackRoll{Parts: []string{"@mod", "@prof"}}, wantParts: []string{"@mod", "@prof", "3"}},
		{name: "ranged with bonus", flag: 3, item: rangedWeapon, roll: &AttackRoll{Parts: []string{"@mod"}}, wantParts: []string{"@mod"}},
		{name: "melee without flag", item: meleeWeapon, roll: &AttackRoll{Parts: []string{"@mod"}}, wantParts: []string{"@mod"}},
		{name: "nil roll", flag: 3, item: meleeWeapon},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := flagstore.NewMemStore()
			if tc.flag > 0 {
				_ = store.Set(ctxBackground, userKey, tc.flag)
			}
			tr := newTestTracker(t, store)

			got := tr.AttackToHit(ctxBackground, "user-1", tc.item, tc.roll)
			if got != tc.roll {
				t.Fatal("AttackToHit returned a different roll")
			}
			if got == nil {
				return
			}
			if diff := cmp.Diff(tc.wantParts, got.Parts); diff != "" {
				t.Errorf("parts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAttackToHit_UnreadableFlagMeansNoBonus(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t, &flakyStore{failGet: true})

	roll := tr.AttackToHit(ctxBackground, "user-1", meleeWeapon, &AttackRoll{Parts: []string{"@mod"}})
	if diff := cmp.Diff([]string{"@mod"}, roll.Parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
}

func TestAttackToHit_WarningCarriesTraceID(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	tr := newTestTracker(t, &flakyStore{failGet: true}, WithLogger(logger))

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(ctxBackground, "bridge.frame.attack")
	defer span.End()

	tr.AttackToHit(ctx, "user-1", meleeWeapon, &AttackRoll{Parts: []string{"@mod"}})

	var line struct {
		Msg     string `json:"msg"`
		TraceID string `json:"trace_id"`
		UserID  string `json:"user_id"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log %q: %v", buf.String(), err)
	}
	if !strings.Contains(line.Msg, "read flanking flag failed") || line.UserID != "user-1" {
		t.Errorf("log line = %+v", line)
	}
	if want := span.SpanContext().TraceID().String(); line.TraceID != want {
		t.Errorf("trace_id = %q, want %q", line.TraceID, want)
	}
}

func TestAttackToHit_AfterEvaluation(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t, flagstore.NewMemStore())

	if _, err := tr.OnTargetToken(ctxBackground, "user-1", threeScene, "target", true); err != nil {
		t.Fatal(err)
	}
	roll := tr.AttackToHit(ctxBackground, "user-1", meleeWeapon, &AttackRoll{Formula: "1d20", Parts: []string{"@mod"}})
	if diff := cmp.Diff([]string{"@mod", "3"}, roll.Parts); diff != "" {
		t.Errorf("parts mismatch (-want +got):\n%s", diff)
	}
	// Other users are unaffected.
	other := tr.AttackToHit(ctxBackground, "user-2", meleeWeapon, &AttackRoll{Parts: []string{"@mod"}})
	if len(other.Parts) != 1 {
		t.Errorf("user-2 parts = %v, want no bonus", other.Parts)
	}
}

// ---------------------------------------------------------------------------
// Announcements
// ---------------------------------------------------------------------------

func TestAnnouncesOnlyChanges(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	tr := newTestTracker(t, flagstore.NewMemStore(), WithAnnouncer(rec))

	steps := []struct {
		scene    *scene.Scene
		targeted bool
	}{
		{flankedScene, true},  // 0 -> 2: announce
		{flankedScene, true},  // 2 -> 2: silent
		{threeScene, true},    // 2 -> 3: announce
		{sameSideScene, true}, // 3 -> 0: announce
		{sameSideScene, true}, // 0 -> 0: silent
		{flankedScene, true},  // 0 -> 2: announce
		{flankedScene, false}, // release: announce
	}
	for i, s := range steps {
		if _, err := tr.OnTargetToken(ctxBackground, "user-1", s.scene, "target", s.targeted); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	got := make([]int, len(rec.events))
	for i, e := range rec.events {
		got[i] = e.Bonus
	}
	if diff := cmp.Diff([]int{2, 3, 0, 2, 0}, got); diff != "" {
		t.Errorf("announced bonuses mismatch (-want +got):\n%s", diff)
	}
	if !rec.events[0].Flanked || rec.events[2].Flanked {
		t.Errorf("flanked flags wrong: %+v", rec.events)
	}
	if rec.events[0].Target != "Target" || rec.events[0].TargetID != "target" {
		t.Errorf("event target = %q/%q", rec.events[0].Target, rec.events[0].TargetID)
	}
}

func TestAnnounceErrorDoesNotFailEvaluation(t *testing.T) {
	t.Parallel()
	rec := &recorder{err: errors.New("discord down")}
	store := flagstore.NewMemStore()
	tr := newTestTracker(t, store, WithAnnouncer(rec))

	if _, err := tr.CheckFlanking(ctxBackground, "user-1", flankedScene, "target"); err != nil {
		t.Fatalf("CheckFlanking: %v", err)
	}
	if v, ok := flag(t, store); !ok || v != 2 {
		t.Errorf("flag = %d,%v, want 2,true", v, ok)
	}
}
