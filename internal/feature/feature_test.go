package feature

import (
	"context"
	"errors"
	"testing"

	abichecker "github.com/encukou/abi-checker"
)

func TestVerifyCompatibilityAllowsNewerCommit(t *testing.T) {
	err := FreeThreading.VerifyCompatibility(context.Background(), abichecker.Version{Major: 3, Minor: 13, Level: abichecker.LevelFinal})
	if err != nil {
		t.Errorf("VerifyCompatibility(3.13) = %v, want nil", err)
	}
}

func TestVerifyCompatibilityRejectsOlderCommit(t *testing.T) {
	err := FreeThreading.VerifyCompatibility(context.Background(), abichecker.Version{Major: 3, Minor: 9, Level: abichecker.LevelFinal})
	var skip *abichecker.SkipBuild
	if !errors.As(err, &skip) {
		t.Fatalf("VerifyCompatibility(3.9) = %v, want *abichecker.SkipBuild", err)
	}
}

func TestByTagLooksUpKnownFeature(t *testing.T) {
	f, ok := ByTag("t")
	if !ok || f.Tag != "t" {
		t.Errorf("ByTag(%q) = %v, %v, want FreeThreading, true", "t", f, ok)
	}
	if _, ok := ByTag("z"); ok {
		t.Errorf("ByTag(%q) unexpectedly found a feature", "z")
	}
}
