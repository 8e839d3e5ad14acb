package retrieval

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/verdantlabs/leafid/internal/catalog"
	"github.com/verdantlabs/leafid/internal/config"
	"github.com/verdantlabs/leafid/internal/embedding"
	"github.com/verdantlabs/leafid/internal/keyword"
	"github.com/verdantlabs/leafid/internal/models"
	"github.com/verdantlabs/leafid/internal/similarity"
	"github.com/verdantlabs/leafid/internal/store"
	"github.com/verdantlabs/leafid/internal/vector"
)

// vectorAtDistance returns a unit 2-d vector at the given cosine distance
// from the reference query {1, 0}.
func vectorAtDistance(d float64) []float32 {
	theta := math.Acos(1 - d)
	return []float32{float32(math.Cos(theta)), float32(math.Sin(theta))}
}

var queryVec = []float32{1, 0}

// newTestLoader builds a loaded catalog from (id, distance) pairs.
func newTestLoader(t *testing.T, entries map[string]float64) *catalog.Loader {
	t.Helper()
	var refs []*catalog.ReferenceEmbedding
	for id, d := range entries {
		refs = append(refs, &catalog.ReferenceEmbedding{
			ID:     id,
			Name:   id,
			Vector: vectorAtDistance(d),
		})
	}
	artifact, err := catalog.Encode(2, refs)
	if err != nil {
		t.Fatal(err)
	}
	ld := catalog.NewLoader(2, func() ([]byte, error) { return artifact, nil })
	ld.Start()
	return ld
}

// memStore is an in-memory Store serving only the read methods the
// coordinator uses.
type memStore struct {
	store.Store
	byID  map[string]*models.Record
	byKey map[string]*models.Record
}

func newMemStore(keys ...string) *memStore {
	m := &memStore{byID: map[string]*models.Record{}, byKey: map[string]*models.Record{}}
	for _, k := range keys {
		rec := &models.Record{ID: "id-" + k, Kind: models.KindPlant, Name: k, NaturalKey: k}
		m.byID[rec.ID] = rec
		m.byKey[k] = rec
	}
	return m
}

func (m *memStore) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	if rec, ok := m.byID[id]; ok {
		return rec, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetByNaturalKey(ctx context.Context, key string) (*models.Record, error) {
	if rec, ok := m.byKey[key]; ok {
		return rec, nil
	}
	return nil, store.ErrNotFound
}

func testPolicy() config.IdentifyConfig {
	return config.IdentifyConfig{DistanceCeiling: 0.25, TightenRatio: 1.40, TopK: 10}
}

func primaryVariant() []embedding.QueryVector {
	return []embedding.QueryVector{{Values: queryVec, Kind: embedding.VariantPrimary, Zoom: 1}}
}

func TestIdentify_CeilingAndTightening(t *testing.T) {
	// A clears the ceiling comfortably, B and C clear it too, but only A
	// survives the relative cut (0.10 x 1.40 = 0.14).
	ld := newTestLoader(t, map[string]float64{"a": 0.10, "b": 0.20, "c": 0.24})
	c := New(ld, nil, newMemStore("a", "b", "c"), testPolicy(), nil)

	matches, winner := c.Identify(context.Background(), primaryVariant())
	if winner != 0 {
		t.Errorf("winner = %d, want 0", winner)
	}
	if len(matches) != 1 || matches[0].Record.NaturalKey != "a" {
		t.Fatalf("matches = %v, want only a", matches)
	}
	if matches[0].Rank != 1 {
		t.Errorf("rank = %d, want 1", matches[0].Rank)
	}
}

func TestIdentify_KeepsCloseRunnersUp(t *testing.T) {
	// 0.06 <= 0.05 x 1.40, so both survive; 0.20 does not.
	ld := newTestLoader(t, map[string]float64{"a": 0.05, "b": 0.06, "c": 0.20})
	c := New(ld, nil, newMemStore("a", "b", "c"), testPolicy(), nil)

	matches, _ := c.Identify(context.Background(), primaryVariant())
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Record.NaturalKey != "a" || matches[1].Record.NaturalKey != "b" {
		t.Errorf("matches = [%s, %s], want [a, b]",
			matches[0].Record.NaturalKey, matches[1].Record.NaturalKey)
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("matches not ordered by distance")
	}
}

func TestIdentify_NothingAdmissible(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"far": 0.9})
	c := New(ld, nil, newMemStore("far"), testPolicy(), nil)

	matches, winner := c.Identify(context.Background(), primaryVariant())
	if len(matches) != 0 || winner != -1 {
		t.Errorf("matches = %v, winner = %d, want none", matches, winner)
	}
}

func TestIdentify_EmptyCatalog(t *testing.T) {
	ld := newTestLoader(t, nil)
	c := New(ld, nil, newMemStore(), testPolicy(), nil)

	matches, winner := c.Identify(context.Background(), primaryVariant())
	if len(matches) != 0 || winner != -1 {
		t.Errorf("matches = %v, winner = %d, want none", matches, winner)
	}
}

func TestIdentify_LaterVariantWins(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"a": 0.10})
	c := New(ld, nil, newMemStore("a"), testPolicy(), nil)

	variants := []embedding.QueryVector{
		{Values: vectorAtDistance(1.0), Kind: embedding.VariantPrimary, Zoom: 1},
		{Values: queryVec, Kind: embedding.VariantZoomed, Zoom: 1.5},
	}
	matches, winner := c.Identify(context.Background(), variants)
	if winner != 1 {
		t.Errorf("winner = %d, want 1", winner)
	}
	if len(matches) != 1 || matches[0].Record.NaturalKey != "a" {
		t.Errorf("matches = %v", matches)
	}
}

func TestIdentify_DropsUnhydratableMatches(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"known": 0.05, "ghost": 0.06})
	c := New(ld, nil, newMemStore("known"), testPolicy(), nil)

	matches, _ := c.Identify(context.Background(), primaryVariant())
	if len(matches) != 1 || matches[0].Record.NaturalKey != "known" {
		t.Fatalf("matches = %v, want only known", matches)
	}
	if matches[0].Rank != 1 {
		t.Errorf("rank = %d, ranks must be contiguous after drops", matches[0].Rank)
	}
}

func TestIdentify_LiveIndexFallback(t *testing.T) {
	// Empty catalog; the live tier has an admissible and an inadmissible entry.
	ld := newTestLoader(t, nil)
	st := newMemStore()
	live := &models.Record{ID: "live-1", Kind: models.KindPlant, Name: "Cutting"}
	st.byID[live.ID] = live

	idx, _ := vector.NewIndex("plants-live", 2)
	_ = idx.Upsert(context.Background(),
		[]string{"live-1", "live-2"},
		[][]float32{vectorAtDistance(0.10), vectorAtDistance(0.90)})

	c := New(ld, nil, st, testPolicy(), nil, WithLiveIndex(idx))
	matches, winner := c.Identify(context.Background(), primaryVariant())
	if winner != 0 {
		t.Errorf("winner = %d, want 0", winner)
	}
	if len(matches) != 1 || matches[0].Record.ID != "live-1" {
		t.Fatalf("matches = %v, want live-1", matches)
	}
}

func TestIdentify_CatalogBeatsLive(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"a": 0.10})
	st := newMemStore("a")
	st.byID["live-1"] = &models.Record{ID: "live-1", Kind: models.KindPlant, Name: "Cutting"}

	idx, _ := vector.NewIndex("plants-live", 2)
	_ = idx.Upsert(context.Background(), []string{"live-1"}, [][]float32{vectorAtDistance(0.01)})

	c := New(ld, nil, st, testPolicy(), nil, WithLiveIndex(idx))
	matches, _ := c.Identify(context.Background(), primaryVariant())
	if len(matches) != 1 || matches[0].Record.NaturalKey != "a" {
		t.Fatalf("matches = %v, want catalog entry a", matches)
	}
}

// countingEmbedder returns a fixed vector and counts calls.
type countingEmbedder struct {
	calls int32
	vec   []float32
	fail  bool
}

func (e *countingEmbedder) EmbedImage(ctx context.Context, img image.Image) ([]float32, error) {
	atomic.AddInt32(&e.calls, 1)
	if e.fail {
		return nil, errors.New("inference unavailable")
	}
	return e.vec, nil
}

func (e *countingEmbedder) Dimensions() int { return len(e.vec) }
func (e *countingEmbedder) Close() error    { return nil }

func TestIdentifyByImage_ShortCircuitsZoomVariants(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"a": 0.10})
	emb := &countingEmbedder{vec: queryVec}
	c := New(ld, emb, newMemStore("a"), testPolicy(), []float64{1.5, 2.2})

	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	resp := c.IdentifyByImage(context.Background(), img)
	if len(resp.Matches) != 1 {
		t.Fatalf("matches = %v", resp.Matches)
	}
	if resp.Variant != 0 {
		t.Errorf("winning variant = %d, want 0", resp.Variant)
	}
	if n := atomic.LoadInt32(&emb.calls); n != 1 {
		t.Errorf("embedding calls = %d, want 1: zoom crops must not be embedded when the primary view matches", n)
	}
}

func TestIdentifyByImage_EvaluatesAllVariantsOnMiss(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"far": 0.9})
	emb := &countingEmbedder{vec: queryVec}
	c := New(ld, emb, newMemStore("far"), testPolicy(), []float64{1.5, 2.2})

	resp := c.IdentifyByImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if len(resp.Matches) != 0 || resp.Variant != -1 {
		t.Errorf("matches = %v, variant = %d, want none", resp.Matches, resp.Variant)
	}
	if n := atomic.LoadInt32(&emb.calls); n != 3 {
		t.Errorf("embedding calls = %d, want 3 (primary + both zooms)", n)
	}
}

func TestIdentifyByImage_AllEmbeddingsFail(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"a": 0.10})
	emb := &countingEmbedder{vec: queryVec, fail: true}
	c := New(ld, emb, newMemStore("a"), testPolicy(), []float64{1.5})

	resp := c.IdentifyByImage(context.Background(), image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if len(resp.Matches) != 0 || resp.Variant != -1 {
		t.Errorf("matches = %v, variant = %d, want empty response", resp.Matches, resp.Variant)
	}
}

func TestIdentify_Concurrent(t *testing.T) {
	ld := newTestLoader(t, map[string]float64{"a": 0.05, "b": 0.06})
	c := New(ld, nil, newMemStore("a", "b"), testPolicy(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			matches, _ := c.Identify(context.Background(), primaryVariant())
			if len(matches) != 2 {
				t.Errorf("got %d matches, want 2", len(matches))
			}
		}()
	}
	wg.Wait()
}

// fakeKeyword returns fixed hit ids for any query.
type fakeKeyword struct {
	hits []string
	err  error
}

func (f *fakeKeyword) Index(ctx context.Context, id string, rec *keyword.IndexedRecord) error {
	return nil
}
func (f *fakeKeyword) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeKeyword) Search(ctx context.Context, query string, limit int) ([]string, error) {
	return f.hits, f.err
}
func (f *fakeKeyword) Close() error { return nil }

func TestIdentifyByText(t *testing.T) {
	ld := newTestLoader(t, nil)
	st := newMemStore("monstera")
	kw := &fakeKeyword{hits: []string{"id-monstera", "id-gone"}}
	c := New(ld, nil, st, testPolicy(), nil, WithKeywordIndex(kw))

	resp := c.IdentifyByText(context.Background(), "swiss cheese plant", 5)
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("results = %v", resp.Results)
	}
	if resp.Results[0].NaturalKey != "monstera" {
		t.Errorf("result = %+v", resp.Results[0])
	}

	// Search errors reduce to an empty response.
	c = New(ld, nil, st, testPolicy(), nil,
		WithKeywordIndex(&fakeKeyword{err: errors.New("index closed")}))
	if resp := c.IdentifyByText(context.Background(), "anything", 5); resp.Total != 0 {
		t.Errorf("results on error = %v", resp.Results)
	}
}

func TestIdentifyByText_NoIndexConfigured(t *testing.T) {
	ld := newTestLoader(t, nil)
	c := New(ld, nil, newMemStore(), testPolicy(), nil)
	resp := c.IdentifyByText(context.Background(), "monstera", 5)
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Errorf("results = %v, want empty", resp.Results)
	}
}

func TestTighten(t *testing.T) {
	in := []similarity.ScoredMatch{
		{ID: "a", Distance: 0.05},
		{ID: "b", Distance: 0.06},
		{ID: "c", Distance: 0.20},
	}
	out := Tighten(in, 1.40)
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("Tighten = %v, want [a b]", out)
	}
	if got := Tighten(nil, 1.40); len(got) != 0 {
		t.Errorf("Tighten(nil) = %v", got)
	}
	// A perfect best match keeps only exact ties.
	exact := []similarity.ScoredMatch{{ID: "a", Distance: 0}, {ID: "b", Distance: 0.01}}
	out = Tighten(exact, 1.40)
	if len(out) != 1 || out[0].ID != "a" {
		t.Errorf("Tighten with zero best = %v, want [a]", out)
	}
}
