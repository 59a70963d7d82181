package fraud

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/petaverse/peta_wallet/internal/logging"
)

// offHours is a fixed instant inside the unusual-activity window.
var offHours = time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

// businessHours is a fixed instant outside it.
var businessHours = time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)

func TestAssessCleanContextScoresZero(t *testing.T) {
	e := NewEvaluator(nil, 10, nil, logging.Discard())

	a := e.Assess(context.Background(), Context{
		Principal:        "p-1",
		Account:          "wallet:a",
		AccountCreatedAt: businessHours.Add(-48 * time.Hour),
		At:               businessHours,
	})
	if a.Score != 0 {
		t.Fatalf("expected score 0 got %d (%v)", a.Score, a.Factors)
	}
	if a.Level != LevelLow {
		t.Fatalf("expected level %s got %s", LevelLow, a.Level)
	}
}

func TestAssessAddsWeightedFactors(t *testing.T) {
	e := NewEvaluator(nil, 10, nil, logging.Discard())

	a := e.Assess(context.Background(), Context{
		Principal:        "p-1",
		Account:          "wallet:a",
		AccountCreatedAt: offHours.Add(-time.Hour),
		Flagged:          true,
		At:               offHours,
	})

	want := PointsOffHours + PointsNewAccount + PointsFlagged
	if a.Score != want {
		t.Fatalf("expected score %d got %d (%v)", want, a.Score, a.Factors)
	}
	if a.Level != LevelHigh {
		t.Fatalf("expected level %s got %s", LevelHigh, a.Level)
	}
	if len(a.Factors) != 3 {
		t.Fatalf("expected 3 factors got %d", len(a.Factors))
	}
}

func TestLevelBands(t *testing.T) {
	cases := []struct {
		score int
		want  string
	}{
		{0, LevelLow},
		{29, LevelLow},
		{30, LevelMedium},
		{59, LevelMedium},
		{60, LevelHigh},
		{84, LevelHigh},
		{85, LevelCritical},
		{120, LevelCritical},
	}
	for _, c := range cases {
		if got := Level(c.score); got != c.want {
			t.Errorf("Level(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestAssessVelocityFactor(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	velocity := NewRedisVelocity(cache, time.Minute)
	e := NewEvaluator(velocity, 3, nil, logging.Discard())

	fc := Context{
		Principal:        "p-velocity",
		Account:          "wallet:a",
		AccountCreatedAt: businessHours.Add(-48 * time.Hour),
		At:               businessHours,
	}

	for i := 0; i < 3; i++ {
		if a := e.Assess(context.Background(), fc); a.Score != 0 {
			t.Fatalf("observation %d within limit scored %d", i+1, a.Score)
		}
	}

	a := e.Assess(context.Background(), fc)
	if a.Score != PointsHighVelocity {
		t.Fatalf("expected velocity score %d got %d (%v)", PointsHighVelocity, a.Score, a.Factors)
	}
}

func TestAssessVelocityFailOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()
	mr.Close() // counter unreachable from here on

	e := NewEvaluator(NewRedisVelocity(cache, time.Minute), 1, nil, logging.Discard())

	a := e.Assess(context.Background(), Context{
		Principal:        "p-1",
		AccountCreatedAt: businessHours.Add(-48 * time.Hour),
		At:               businessHours,
	})
	if a.Score != 0 {
		t.Fatalf("unreachable counter must contribute nothing, got %d", a.Score)
	}
}

func TestAssessPersistsHistory(t *testing.T) {
	repo := NewMemoryRepository()
	e := NewEvaluator(nil, 10, repo, logging.Discard())

	for i := 0; i < 3; i++ {
		e.Assess(context.Background(), Context{Principal: "p-history", At: offHours})
	}

	history, err := repo.History(context.Background(), "p-history", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 assessments got %d", len(history))
	}
	for _, a := range history {
		if a.Score != PointsOffHours {
			t.Fatalf("expected recorded score %d got %d", PointsOffHours, a.Score)
		}
	}
}
