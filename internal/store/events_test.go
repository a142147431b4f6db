package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcliao/watchpost/internal/model"
)

func TestAddAndListEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.AddEvent(ctx, model.Event{Type: "person", Label: "alice", Confidence: 0.9, IdentificationMethod: model.MethodFace, CameraName: "porch", CreatedAt: base})
	s.AddEvent(ctx, model.Event{Type: "person", Label: "bob (Re-ID)", Confidence: 0.8, IdentificationMethod: model.MethodReID, CameraName: "yard", CreatedAt: base.Add(time.Second)})
	s.AddEvent(ctx, model.Event{Type: "cat", Label: "cat", Confidence: 0.7, CameraName: "porch", CreatedAt: base.Add(2 * time.Second)})

	all, err := s.ListEvents(ctx, EventParams{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	if all[0].Label != "cat" {
		t.Errorf("expected newest first, got %q", all[0].Label)
	}
	if all[0].ID == "" {
		t.Error("expected generated id")
	}

	byCam, _ := s.ListEvents(ctx, EventParams{Camera: "porch"})
	if len(byCam) != 2 {
		t.Errorf("expected 2 porch events, got %d", len(byCam))
	}

	byMethod, _ := s.ListEvents(ctx, EventParams{Method: model.MethodReID})
	if len(byMethod) != 1 || byMethod[0].Label != "bob (Re-ID)" {
		t.Errorf("unexpected method filter result: %+v", byMethod)
	}

	byLabel, _ := s.ListEvents(ctx, EventParams{Label: "ali"})
	if len(byLabel) != 1 {
		t.Errorf("expected 1 label match, got %d", len(byLabel))
	}

	since, _ := s.ListEvents(ctx, EventParams{Since: base.Add(time.Second)})
	if len(since) != 2 {
		t.Errorf("expected 2 since filter, got %d", len(since))
	}

	limited, _ := s.ListEvents(ctx, EventParams{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected 1 with limit, got %d", len(limited))
	}
}

func TestMarkEventSent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, err := s.AddEvent(ctx, model.Event{Type: "person", Label: "Unknown", SnapshotPath: "snapshots/x.jpg"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	unsent, _ := s.ListEvents(ctx, EventParams{Unsent: true})
	if len(unsent) != 1 || unsent[0].SnapshotPath != "snapshots/x.jpg" {
		t.Fatalf("unexpected unsent: %+v", unsent)
	}

	if err := s.MarkEventSent(ctx, e.ID); err != nil {
		t.Fatalf("mark: %v", err)
	}
	unsent, _ = s.ListEvents(ctx, EventParams{Unsent: true})
	if len(unsent) != 0 {
		t.Errorf("expected no unsent events, got %d", len(unsent))
	}
	if err := s.MarkEventSent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := newTestStore(t)

	u := mustUser(t, s, "alice")
	s.AddReIDEmbedding(ctx, u.ID, []float32{1}, 1)
	s.AddGaitEmbedding(ctx, u.ID, []float32{1}, 1)
	s.AddGaitEmbedding(ctx, u.ID, []float32{2}, 1)
	s.AddEvent(ctx, model.Event{Type: "person", Label: "alice"})

	st, err := s.Stats(ctx, dir+"/missing.db")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Users != 1 || st.ReIDEmbeddings != 1 || st.GaitEmbeddings != 2 || st.Events != 1 || st.UnsentEvents != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if len(st.PerUser) != 1 || st.PerUser[0].Gait != 2 {
		t.Errorf("unexpected per-user stats: %+v", st.PerUser)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t)

	u := mustUser(t, src, "alice")
	src.AddReIDEmbedding(ctx, u.ID, []float32{1, 2}, 0.9)
	src.AddGaitEmbedding(ctx, u.ID, []float32{3, 4}, 0.8)
	src.AddEvent(ctx, model.Event{Type: "person", Label: "alice"})

	ex, err := src.ExportAll(ctx, true)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(ex.Users) != 1 || len(ex.Users[0].ReID) != 1 || len(ex.Users[0].Gait) != 1 || len(ex.Events) != 1 {
		t.Fatalf("unexpected export: %+v", ex)
	}

	dst := newTestStore(t)
	n, err := dst.Import(ctx, ex)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 imported, got %d", n)
	}

	// Events are deduplicated by id on a second import.
	n, _ = dst.Import(ctx, &Export{Events: ex.Events})
	if n != 0 {
		t.Errorf("expected duplicate events skipped, got %d", n)
	}

	recs, _ := dst.GaitEmbeddingsWithNames(ctx)
	if len(recs) != 1 || recs[0].Name != "alice" || recs[0].Vector[1] != 4 {
		t.Errorf("unexpected imported gait: %+v", recs)
	}
}
