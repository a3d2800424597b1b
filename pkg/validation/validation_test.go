package validation

import "testing"

func TestScorer_FloorsAtZero(t *testing.T) {
	s := NewScorer()
	for i := 0; i < 10; i++ {
		s.MissingRequiredFile()
	}
	if s.Score() != 0 {
		t.Errorf("expected score floored at 0, got %v", s.Score())
	}
}

func TestScorer_AccumulatesPenalties(t *testing.T) {
	s := NewScorer()
	s.MissingRequiredFile() // -20
	s.SizeRangeBreach()     // -10
	s.Warning()             // -2
	if s.Score() != 68 {
		t.Errorf("expected score 68, got %v", s.Score())
	}
}

func TestEvaluateLevel_Strict(t *testing.T) {
	if EvaluateLevel(LevelStrict, nil, 95) != true {
		t.Error("expected STRICT to pass with no errors and score 95")
	}
	if EvaluateLevel(LevelStrict, []Issue{{Severity: SeverityWarning}}, 95) != false {
		t.Error("expected STRICT to fail on any error, even non-critical")
	}
	if EvaluateLevel(LevelStrict, nil, 89) != false {
		t.Error("expected STRICT to fail below score 90")
	}
}

func TestEvaluateLevel_Standard(t *testing.T) {
	errs := []Issue{{Severity: SeverityError}, {Severity: SeverityError}}
	if EvaluateLevel(LevelStandard, errs, 65) != true {
		t.Error("expected STANDARD to allow non-critical errors above the score floor")
	}
	critical := []Issue{{Severity: SeverityCritical}}
	if EvaluateLevel(LevelStandard, critical, 99) != false {
		t.Error("expected STANDARD to fail on any critical error")
	}
}

func TestEvaluateLevel_Lenient(t *testing.T) {
	var errs []Issue
	for i := 0; i < 5; i++ {
		errs = append(errs, Issue{Severity: SeverityError})
	}
	if EvaluateLevel(LevelLenient, errs, 35) != true {
		t.Error("expected LENIENT to allow up to 5 non-critical errors")
	}
	errs = append(errs, Issue{Severity: SeverityError})
	if EvaluateLevel(LevelLenient, errs, 35) != false {
		t.Error("expected LENIENT to fail beyond 5 non-critical errors")
	}
}

func TestTruncateSummary(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	got := TruncateSummary(string(long))
	if len(got) != 240 {
		t.Errorf("expected truncation to 240 chars, got %d", len(got))
	}
}

func TestDedup_RemovesExactDuplicates(t *testing.T) {
	issues := []Issue{
		{Code: "A", Message: "m1", Path: "p1"},
		{Code: "A", Message: "m1", Path: "p1"},
		{Code: "A", Message: "m2", Path: "p1"},
	}
	out := Dedup(issues)
	if len(out) != 2 {
		t.Errorf("expected 2 distinct issues, got %d", len(out))
	}
}
