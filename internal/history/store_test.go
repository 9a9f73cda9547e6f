package history_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"espresso-flow-vision/internal/experiment"
	"espresso-flow-vision/internal/frames"
	"espresso-flow-vision/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "data", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleExperiment(id int64) experiment.Experiment {
	dose := 18.0
	return experiment.Experiment{
		ID:        id,
		RunID:     "run",
		CreatedAt: time.UnixMilli(id).UTC(),
		DoseG:     &dose,
		Balance:   "balanced",
		Score:     77,
		JetsMean:  2.5,
		Frames:    2,
		Series: frames.Series{
			frames.NewFrameSample(1.0, []int{40, 60}),
			frames.NewFrameSample(1.1, nil),
		},
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	exp := sampleExperiment(1_700_000_000_000)
	if err := store.Save(ctx, &exp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, exp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DoseG == nil || *got.DoseG != 18 || got.OutputG != nil || got.AvgFlowGPS != nil {
		t.Fatalf("optional fields = dose %v output %v flow %v", got.DoseG, got.OutputG, got.AvgFlowGPS)
	}
	if got.Score != 77 || got.Balance != "balanced" || !got.CreatedAt.Equal(exp.CreatedAt) {
		t.Fatalf("got %+v", got)
	}
	if len(got.Series) != 2 || got.Series[0].Area != 100 || got.Series[0].Jets != 2 || got.Series[1].Jets != 0 {
		t.Fatalf("series = %+v", got.Series)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []int64{1000, 3000, 2000} {
		exp := sampleExperiment(id)
		if err := store.Save(ctx, &exp); err != nil {
			t.Fatalf("Save %d: %v", id, err)
		}
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 || list[0].ID != 3000 || list[1].ID != 2000 || list[2].ID != 1000 {
		t.Fatalf("list order = %v", ids(list))
	}
	if list[0].Series != nil {
		t.Fatal("List should not decode series")
	}
}

func TestSaveAdvancesDuplicateID(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	first := sampleExperiment(5000)
	second := sampleExperiment(5000)
	if err := store.Save(ctx, &first); err != nil {
		t.Fatalf("Save first: %v", err)
	}
	if err := store.Save(ctx, &second); err != nil {
		t.Fatalf("Save second: %v", err)
	}
	if second.ID != 5001 {
		t.Fatalf("second id = %d, want 5001", second.ID)
	}
}

func TestDeleteAndNotFound(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	exp := sampleExperiment(42)
	if err := store.Save(ctx, &exp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, 42); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("Get after delete err = %v", err)
	}
	if err := store.Delete(ctx, 42); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("second Delete err = %v", err)
	}
	if n, err := store.Count(ctx); err != nil || n != 0 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exp := sampleExperiment(7)
	if err := store.Save(context.Background(), &exp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = store.Close()

	reopened, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if n, _ := reopened.Count(context.Background()); n != 1 {
		t.Fatalf("Count after reopen = %d", n)
	}
}

func ids(list []experiment.Experiment) []int64 {
	out := make([]int64, len(list))
	for i, e := range list {
		out[i] = e.ID
	}
	return out
}
