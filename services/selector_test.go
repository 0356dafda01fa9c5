package services

import (
	"context"
	"errors"
	"testing"

	"fakeout/models"
)

func idSet(arts []models.Article) map[uint]bool {
	set := make(map[uint]bool, len(arts))
	for _, a := range arts {
		set[a.ID] = true
	}
	return set
}

func countByType(arts []models.Article) (real, fake int) {
	for _, a := range arts {
		if a.IsReal {
			real++
		} else {
			fake++
		}
	}
	return real, fake
}

func TestSelectBatchEmptyCorpus(t *testing.T) {
	s := NewSelectorService(newTestDB(t), testLogger())

	_, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if !errors.Is(err, ErrNoArticles) {
		t.Fatalf("expected ErrNoArticles, got %v", err)
	}
}

func TestSelectBatchSmallCorpusBypassesSeenFilter(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 2, 1)
	markSeen(t, db, "u1", arts[:2])

	s := NewSelectorService(db, testLogger())
	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Articles) != 3 {
		t.Fatalf("small corpus must return all 3 articles, got %d", len(batch.Articles))
	}
	if batch.TotalCount != 3 || batch.UnseenCount != 1 {
		t.Fatalf("expected total=3 unseen=1, got total=%d unseen=%d", batch.TotalCount, batch.UnseenCount)
	}
}

func TestSelectBatchSmallCorpusExhausted(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 2, 1)
	markSeen(t, db, "u1", arts)

	s := NewSelectorService(db, testLogger())
	_, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}

	// The override still hands out the full corpus.
	batch, err := s.SelectBatch(context.Background(), "u1", 10, true)
	if err != nil {
		t.Fatalf("unexpected error with ignoreSeen: %v", err)
	}
	if len(batch.Articles) != 3 {
		t.Fatalf("expected 3 articles with ignoreSeen, got %d", len(batch.Articles))
	}
}

func TestSelectBatchBalancedMix(t *testing.T) {
	db := newTestDB(t)
	seedArticles(t, db, 20, 20)

	s := NewSelectorService(db, testLogger())
	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Articles) != 10 {
		t.Fatalf("expected batch of 10, got %d", len(batch.Articles))
	}
	real, fake := countByType(batch.Articles)
	if diff := real - fake; diff < -1 || diff > 1 {
		t.Fatalf("mix too uneven: %d real vs %d fake", real, fake)
	}
}

func TestSelectBatchAdjacencyBestEffort(t *testing.T) {
	db := newTestDB(t)
	seedArticles(t, db, 20, 20)

	s := NewSelectorService(db, testLogger())
	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A same-type pair is only acceptable when no opposite-type article
	// exists further right to swap with.
	arts := batch.Articles
	for i := 1; i < len(arts); i++ {
		if arts[i].IsReal != arts[i-1].IsReal {
			continue
		}
		for j := i + 1; j < len(arts); j++ {
			if arts[j].IsReal != arts[i].IsReal {
				t.Fatalf("avoidable adjacency violation at %d (opposite type at %d)", i, j)
			}
		}
	}
}

func TestSelectBatchReturnsLastUnseenArticles(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 20, 20)

	// 19 real + 19 fake seen, 2 left.
	markSeen(t, db, "u1", arts[:19])
	markSeen(t, db, "u1", arts[20:39])

	s := NewSelectorService(db, testLogger())
	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Articles) != 2 {
		t.Fatalf("expected the 2 remaining unseen articles, got %d", len(batch.Articles))
	}
	if batch.UnseenCount != 2 {
		t.Fatalf("expected unseen count 2, got %d", batch.UnseenCount)
	}
	got := idSet(batch.Articles)
	if !got[arts[19].ID] || !got[arts[39].ID] {
		t.Fatalf("expected articles %d and %d, got %v", arts[19].ID, arts[39].ID, got)
	}
}

func TestSelectBatchSameUnseenSetAcrossCalls(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 4, 4)
	markSeen(t, db, "u1", arts[:2])

	s := NewSelectorService(db, testLogger())
	first, err := s.SelectBatch(context.Background(), "u1", 6, false)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := s.SelectBatch(context.Background(), "u1", 6, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	// Ordering may differ, the set of unseen ids must not.
	firstSet, secondSet := idSet(first.Articles), idSet(second.Articles)
	if len(firstSet) != len(secondSet) {
		t.Fatalf("set sizes differ: %d vs %d", len(firstSet), len(secondSet))
	}
	for id := range firstSet {
		if !secondSet[id] {
			t.Fatalf("article %d missing from second batch", id)
		}
	}
}

func TestSelectBatchAutoResetsExhaustedLargeCorpus(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 5, 5)
	markSeen(t, db, "u1", arts)

	s := NewSelectorService(db, testLogger())
	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("expected auto reset instead of error, got %v", err)
	}
	if len(batch.Articles) == 0 {
		t.Fatal("expected a non-empty batch after auto reset")
	}

	var remaining int64
	if err := db.Model(&models.SeenArticle{}).Where("user_id = ?", "u1").Count(&remaining).Error; err != nil {
		t.Fatalf("counting seen rows: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected seen list cleared, %d rows remain", remaining)
	}
}

func TestResetSeenMakesHistoryIrrelevant(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 3, 3)
	markSeen(t, db, "u1", arts[:4])

	s := NewSelectorService(db, testLogger())
	if err := s.ResetSeen(context.Background(), "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	batch, err := s.SelectBatch(context.Background(), "u1", 6, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Articles) != 6 {
		t.Fatalf("expected full corpus of 6 after reset, got %d", len(batch.Articles))
	}
	if batch.UnseenCount != 6 {
		t.Fatalf("expected unseen count 6 after reset, got %d", batch.UnseenCount)
	}
}

func TestSelectBatchShortBatchTriggersReplenishment(t *testing.T) {
	db := newTestDB(t)
	seedArticles(t, db, 2, 2)

	s := NewSelectorService(db, testLogger())
	var need int
	s.Replenish = func(n int) { need = n }

	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Articles) != 4 {
		t.Fatalf("expected the 4 available articles, got %d", len(batch.Articles))
	}
	if need != 6 {
		t.Fatalf("expected replenishment request for 6 articles, got %d", need)
	}
}

func TestSelectBatchSmallCorpusTriggersReplenishment(t *testing.T) {
	db := newTestDB(t)
	arts := seedArticles(t, db, 1, 1)

	s := NewSelectorService(db, testLogger())
	var need int
	s.Replenish = func(n int) { need = n }

	batch, err := s.SelectBatch(context.Background(), "u1", 10, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch.Articles) != 2 {
		t.Fatalf("expected both articles, got %d", len(batch.Articles))
	}
	if need != 8 {
		t.Fatalf("expected replenishment request for 8 articles, got %d", need)
	}

	// The exhausted state is even more starved and must ask as well.
	markSeen(t, db, "u1", arts)
	need = 0
	if _, err := s.SelectBatch(context.Background(), "u1", 10, false); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if need != 8 {
		t.Fatalf("expected replenishment request alongside the exhausted signal, got %d", need)
	}
}

func TestSelectBatchReplenishThresholdExactHalf(t *testing.T) {
	db := newTestDB(t)
	seedArticles(t, db, 2, 2)

	s := NewSelectorService(db, testLogger())
	called := 0
	var need int
	s.Replenish = func(n int) { called++; need = n }

	// 4 of 8 is exactly half, not below it.
	if _, err := s.SelectBatch(context.Background(), "u1", 8, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != 0 {
		t.Fatalf("exactly half the requested size must not trigger replenishment")
	}

	// 4 of 9 is below half even though 9/2 truncates to 4.
	if _, err := s.SelectBatch(context.Background(), "u1", 9, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != 1 || need != 5 {
		t.Fatalf("expected one replenishment request for 5 articles, got called=%d need=%d", called, need)
	}
}

func TestSelectBatchBumpsViewCounters(t *testing.T) {
	db := newTestDB(t)
	seedArticles(t, db, 3, 3)

	s := NewSelectorService(db, testLogger())
	if _, err := s.SelectBatch(context.Background(), "u1", 6, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var viewed int64
	if err := db.Model(&models.Article{}).Where("views > 0").Count(&viewed).Error; err != nil {
		t.Fatalf("counting viewed articles: %v", err)
	}
	if viewed != 6 {
		t.Fatalf("expected 6 articles with bumped views, got %d", viewed)
	}
}

func TestDedupeByTitle(t *testing.T) {
	arts := []models.Article{
		{ID: 1, Title: "Breaking News"},
		{ID: 2, Title: "  breaking news "},
		{ID: 3, Title: "BREAKING NEWS"},
		{ID: 4, Title: "Something Else"},
	}
	out := dedupeByTitle(arts)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique titles, got %d", len(out))
	}
	if out[0].ID != 1 || out[1].ID != 4 {
		t.Fatalf("expected first occurrences kept, got ids %d and %d", out[0].ID, out[1].ID)
	}
}

func TestBalanceMix(t *testing.T) {
	mk := func(n int, isReal bool) []models.Article {
		arts := make([]models.Article, n)
		for i := range arts {
			arts[i] = models.Article{IsReal: isReal}
		}
		return arts
	}

	tests := []struct {
		name               string
		nReal, nFake, want int
		wantReal, wantFake int
	}{
		{"plenty of both", 10, 10, 10, 5, 5},
		{"odd size favors real", 10, 10, 5, 3, 2},
		{"short on real", 2, 10, 10, 2, 8},
		{"short on fake", 10, 1, 10, 9, 1},
		{"both short", 2, 2, 10, 2, 2},
		{"fake only", 0, 8, 6, 0, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := balanceMix(mk(tt.nReal, true), mk(tt.nFake, false), tt.want)
			real, fake := countByType(out)
			if real != tt.wantReal || fake != tt.wantFake {
				t.Fatalf("got %d real / %d fake, want %d / %d", real, fake, tt.wantReal, tt.wantFake)
			}
		})
	}
}

func TestRepairAdjacency(t *testing.T) {
	mk := func(types ...bool) []models.Article {
		arts := make([]models.Article, len(types))
		for i, isReal := range types {
			arts[i] = models.Article{ID: uint(i + 1), IsReal: isReal}
		}
		return arts
	}
	flags := func(arts []models.Article) []bool {
		out := make([]bool, len(arts))
		for i, a := range arts {
			out[i] = a.IsReal
		}
		return out
	}

	t.Run("repairable run", func(t *testing.T) {
		arts := mk(true, true, false, false)
		repairAdjacency(arts)
		want := []bool{true, false, true, false}
		for i, f := range flags(arts) {
			if f != want[i] {
				t.Fatalf("position %d: got %v, want %v", i, f, want[i])
			}
		}
	})

	t.Run("uniform input left untouched", func(t *testing.T) {
		arts := mk(true, true, true)
		repairAdjacency(arts)
		for i, a := range arts {
			if a.ID != uint(i+1) {
				t.Fatalf("uniform slice must keep its order, got id %d at %d", a.ID, i)
			}
		}
	})

	t.Run("trailing violation without candidate stays", func(t *testing.T) {
		arts := mk(false, true, true)
		repairAdjacency(arts)
		// No fake article exists right of position 2; best effort leaves it.
		got := flags(arts)
		want := []bool{false, true, true}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("position %d: got %v, want %v", i, got[i], want[i])
			}
		}
	})
}
