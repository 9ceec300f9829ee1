package config

import (
	"context"
	"testing"
)

func TestBuildDriver_Echo(t *testing.T) {
	c := Config{Driver: DriverEcho}
	d, err := c.BuildDriver(context.Background())
	if err != nil {
		t.Fatalf("BuildDriver(echo): %v", err)
	}
	if d.Name() != "echo" {
		t.Fatalf("got driver name %q, want echo", d.Name())
	}
}

func TestBuildDriver_OpenAICompatible(t *testing.T) {
	c := Config{Driver: DriverOpenAICompatible, OpenAIAPIKey: "sk-test"}
	d, err := c.BuildDriver(context.Background())
	if err != nil {
		t.Fatalf("BuildDriver(openai-compatible): %v", err)
	}
	if d.Name() != "openai-compatible" {
		t.Fatalf("got driver name %q", d.Name())
	}
}

func TestBuildDriver_UnknownKindIsError(t *testing.T) {
	c := Config{Driver: DriverKind("nonsense")}
	if _, err := c.BuildDriver(context.Background()); err == nil {
		t.Fatalf("expected an error for an unknown driver kind")
	}
}
