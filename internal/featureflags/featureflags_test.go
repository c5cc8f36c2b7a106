package featureflags

import (
	"context"
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	flags, err := Resolve([]string{"notes-preview"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !flags.Enabled(FeatureNotesPreview) {
		t.Fatalf("expected feature %s to be enabled", FeatureNotesPreview)
	}
	if names := flags.EnabledNames(); len(names) != 1 || names[0] != FeatureNotesPreview {
		t.Fatalf("EnabledNames=%v", names)
	}
}

func TestResolveLaterSourceDisables(t *testing.T) {
	flags, err := Resolve([]string{"notes_preview"}, []string{"notes-preview=false"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if flags.Enabled(FeatureNotesPreview) {
		t.Fatalf("expected later source to disable the flag")
	}
}

func TestResolveUnknown(t *testing.T) {
	_, err := Resolve([]string{"not-a-real-flag"})
	if !errors.Is(err, ErrUnknownFeature) {
		t.Fatalf("expected ErrUnknownFeature, got %v", err)
	}
}

func TestEnabledFromEnv(t *testing.T) {
	env := []string{
		"SEMREL_FEATURE_NOTES_PREVIEW=1",
		"SOME_OTHER=value",
		"SEMREL_FEATURE_BOGUS=0",
	}
	flags, err := Resolve(EnabledFromEnv(env))
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if !flags.Enabled(FeatureNotesPreview) {
		t.Fatalf("expected env to enable %s", FeatureNotesPreview)
	}
}

func TestEnabledFromProcessEnv(t *testing.T) {
	def, _ := DefinitionByName(FeatureNotesPreview)
	t.Setenv(def.EnvVar(), "true")
	list := EnabledFromEnv(nil)
	if len(list) != 1 || list[0] != string(FeatureNotesPreview) {
		t.Fatalf("unexpected env flags %v", list)
	}
}

func TestContextHelpers(t *testing.T) {
	flags, err := Resolve([]string{"notes-preview"})
	if err != nil {
		t.Fatal(err)
	}
	if !FromContext(ContextWithFlags(context.Background(), flags)).Enabled(FeatureNotesPreview) {
		t.Fatalf("expected flag to survive context round-trip")
	}
	if FromContext(context.Background()).Enabled(FeatureNotesPreview) {
		t.Fatalf("zero context should not report feature enabled")
	}
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	if len(defs) == 0 || defs[0].EnvVar() != "SEMREL_FEATURE_NOTES_PREVIEW" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
}
