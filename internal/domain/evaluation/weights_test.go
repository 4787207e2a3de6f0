package evaluation

import (
	"context"
	"sync"
	"testing"
)

func TestComputeWeightsScenarios(t *testing.T) {
	priorities := DefaultGradePriorities()
	tests := []struct {
		name    string
		items   []WorkItemAssignment
		grades  map[string]string
		weights []float64
	}{
		{
			name: "single graded project splits evenly",
			items: []WorkItemAssignment{
				{ID: "a", ProjectID: "p1", WorkItemID: "w1"},
				{ID: "b", ProjectID: "p1", WorkItemID: "w2"},
			},
			grades:  map[string]string{"p1": "1A"},
			weights: []float64{60, 60},
		},
		{
			name: "two projects",
			items: []WorkItemAssignment{
				{ID: "a", ProjectID: "p1", WorkItemID: "w1"},
				{ID: "b", ProjectID: "p1", WorkItemID: "w2"},
				{ID: "c", ProjectID: "p2", WorkItemID: "w3"},
			},
			grades:  map[string]string{"p1": "1A", "p2": "2A"},
			weights: []float64{36, 36, 48},
		},
		{
			name: "every grade once",
			items: []WorkItemAssignment{
				{ID: "a", ProjectID: "g1", WorkItemID: "w1"},
				{ID: "b", ProjectID: "g2", WorkItemID: "w2"},
				{ID: "c", ProjectID: "g3", WorkItemID: "w3"},
				{ID: "d", ProjectID: "g4", WorkItemID: "w4"},
				{ID: "e", ProjectID: "g5", WorkItemID: "w5"},
				{ID: "f", ProjectID: "g6", WorkItemID: "w6"},
			},
			grades:  map[string]string{"g1": "1A", "g2": "1B", "g3": "2A", "g4": "2B", "g5": "3A", "g6": "3B"},
			weights: []float64{34.29, 28.57, 22.86, 17.14, 11.43, 5.71},
		},
		{
			name: "ungraded project excluded",
			items: []WorkItemAssignment{
				{ID: "a", ProjectID: "p1", WorkItemID: "w1"},
				{ID: "b", ProjectID: "p2", WorkItemID: "w2"},
			},
			grades:  map[string]string{"p1": "2b", "p2": ""},
			weights: []float64{120, 0},
		},
		{
			name: "all ungraded",
			items: []WorkItemAssignment{
				{ID: "a", ProjectID: "p1", WorkItemID: "w1"},
				{ID: "b", ProjectID: "p2", WorkItemID: "w2"},
			},
			grades:  map[string]string{"p2": "ZZ"},
			weights: []float64{0, 0},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeWeights(tc.items, tc.grades, priorities, 120)
			if len(got) != len(tc.weights) {
				t.Fatalf("expected %d weights, got %d", len(tc.weights), len(got))
			}
			for i, want := range tc.weights {
				if !approxEqual(got[i].Weight, want) {
					t.Fatalf("item %d: expected weight %.2f, got %.4f", i, want, got[i].Weight)
				}
			}
			if tc.items[0].Weight != 0 {
				t.Fatalf("input assignments must not be modified")
			}
		})
	}
}

func TestComputeWeightsInvariants(t *testing.T) {
	priorities := DefaultGradePriorities()
	grades := map[string]string{"hi": "1B", "lo": "3A", "mid": "2A"}
	var items []WorkItemAssignment
	for i, project := range []string{"hi", "hi", "hi", "lo", "lo", "lo", "mid"} {
		items = append(items, WorkItemAssignment{ID: string(rune('a' + i)), ProjectID: project})
	}

	got := ComputeWeights(items, grades, priorities, 120)
	if total := sumWeights(got); !approxEqual(total, 120) {
		t.Fatalf("expected weights to sum to 120, got %.4f", total)
	}

	byProject := map[string][]float64{}
	for _, item := range got {
		byProject[item.ProjectID] = append(byProject[item.ProjectID], item.Weight)
	}
	for project, weights := range byProject {
		for _, w := range weights {
			if w != weights[0] {
				t.Fatalf("project %s items differ: %v", project, weights)
			}
		}
	}
	if byProject["hi"][0] <= byProject["lo"][0] {
		t.Fatalf("higher priority project should weigh more per item: hi=%v lo=%v", byProject["hi"][0], byProject["lo"][0])
	}
}

func TestRecomputeWeightsPersists(t *testing.T) {
	f := newFixture(t)
	f.store.PutProject("proj-a", "1A")
	f.store.PutProject("proj-b", "2A")
	f.item("e1", "proj-a", "w1", 1)
	f.item("e1", "proj-a", "w2", 2)
	f.item("e1", "proj-b", "w3", 3)

	ctx := context.Background()
	got, err := f.engine.Weights.RecomputeWeights(ctx, "e1", "p1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(got))
	}

	stored, err := f.store.ListAssignments(ctx, "p1", []string{"e1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := map[string]float64{"w1": 36, "w2": 36, "w3": 48}
	for _, a := range stored {
		if !approxEqual(a.Weight, want[a.WorkItemID]) {
			t.Fatalf("%s: expected %.2f, got %.4f", a.WorkItemID, want[a.WorkItemID], a.Weight)
		}
	}

	again, err := f.engine.Weights.RecomputeWeights(ctx, "e1", "p1")
	if err != nil {
		t.Fatalf("recompute again: %v", err)
	}
	for i := range got {
		if got[i].Weight != again[i].Weight {
			t.Fatalf("recompute not idempotent: %v vs %v", got[i].Weight, again[i].Weight)
		}
	}
	if f.counters.recompute != 2 {
		t.Fatalf("expected 2 recompute counts, got %d", f.counters.recompute)
	}
}

func TestRecomputeWeightsSkipsCancelledAssignments(t *testing.T) {
	f := newFixture(t)
	f.store.PutProject("proj-a", "1A")
	f.store.PutProject("proj-b", "1A")
	f.item("e1", "proj-a", "w1", 1)
	f.item("e1", "proj-b", "w2", 2)
	f.store.CancelProjectAssignment("p1", "e1", "proj-b")

	got, err := f.engine.Weights.RecomputeWeights(context.Background(), "e1", "p1")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(got) != 1 || got[0].WorkItemID != "w1" || !approxEqual(got[0].Weight, 120) {
		t.Fatalf("expected only w1 weighted 120, got %+v", got)
	}
}

func TestRecomputeWeightsEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.engine.Weights.RecomputeWeights(ctx, "nobody", "p1")
	if err != nil {
		t.Fatalf("recompute without assignments: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no assignments, got %d", len(got))
	}

	if _, err := f.engine.Weights.RecomputeWeights(ctx, "e1", "missing"); !isNotFound(err) {
		t.Fatalf("expected not found for unknown period, got %v", err)
	}
	if _, err := f.engine.Weights.RecomputeWeights(ctx, "", "p1"); !isValidation(err) {
		t.Fatalf("expected validation error for blank employee, got %v", err)
	}
}

func TestRecomputeWeightsUsesDefaultMaxRate(t *testing.T) {
	f := newFixture(t)
	f.store.PutPeriod(EvaluationPeriod{ID: "p2"})
	f.store.PutProject("proj-a", "3B")
	f.store.PutAssignment(WorkItemAssignment{ID: "x", PeriodID: "p2", EmployeeID: "e1", ProjectID: "proj-a", WorkItemID: "w1"})

	got, err := f.engine.Weights.RecomputeWeights(context.Background(), "e1", "p2")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !approxEqual(got[0].Weight, DefaultMaxRate) {
		t.Fatalf("expected default max rate %.0f, got %.4f", DefaultMaxRate, got[0].Weight)
	}
}

func TestRecomputeWeightsConcurrentCallsKeepSum(t *testing.T) {
	f := newFixture(t)
	f.store.PutProject("proj-a", "1A")
	f.store.PutProject("proj-b", "3B")
	for i, item := range []string{"w1", "w2", "w3", "w4"} {
		project := "proj-a"
		if i%2 == 1 {
			project = "proj-b"
		}
		f.item("e1", project, item, i)
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Weights.RecomputeWeights(ctx, "e1", "p1"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent recompute: %v", err)
	}

	stored, _ := f.store.ListAssignments(ctx, "p1", []string{"e1"})
	if total := sumWeights(stored); !approxEqual(total, 120) {
		t.Fatalf("expected sum 120 after concurrent recomputes, got %.4f", total)
	}
}

func TestUpdateWeightsRejectsStaleSet(t *testing.T) {
	f := newFixture(t)
	f.store.PutProject("proj-a", "1A")
	a := f.item("e1", "proj-a", "w1", 1)
	f.item("e1", "proj-a", "w2", 2)

	err := f.store.UpdateWeights(context.Background(), "p1", "e1", []AssignmentWeight{{AssignmentID: a.ID, Weight: 120}})
	if err != ErrConflict {
		t.Fatalf("expected ErrConflict for partial weight set, got %v", err)
	}
}
