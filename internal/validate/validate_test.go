package validate_test

import (
	"testing"

	"github.com/robotdad/amplifier-collection-recipes/internal/recipeyaml"
	"github.com/robotdad/amplifier-collection-recipes/internal/validate"
)

func TestValidateValidRecipe(t *testing.T) {
	doc := `
name: greet
description: says hello
version: 1.0.0
context:
  who: world
steps:
  - id: a
    agent: x
    prompt: "hello {{who}}"
    output: greet
  - id: b
    agent: y
    prompt: "echo {{greet}}"
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{})
	if !res.IsValid() {
		t.Fatalf("expected valid, got errors: %v", res.Errors)
	}
}

func TestValidateUnreachableVariable(t *testing.T) {
	doc := `
name: bad
description: d
version: 1.0.0
steps:
  - id: a
    agent: x
    prompt: "{{nope}}"
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{})
	if res.IsValid() {
		t.Fatal("expected reachability error")
	}
}

func TestValidateReservedOutputName(t *testing.T) {
	doc := `
name: bad
description: d
version: 1.0.0
steps:
  - id: a
    agent: x
    prompt: hi
    output: session
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{})
	if res.IsValid() {
		t.Fatal("expected reserved-name error")
	}
}

func TestValidateDependsOnForwardReference(t *testing.T) {
	doc := `
name: bad
description: d
version: 1.0.0
steps:
  - id: a
    agent: x
    prompt: hi
    depends_on: ["b"]
  - id: b
    agent: x
    prompt: hi
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{})
	if res.IsValid() {
		t.Fatal("expected forward-reference error")
	}
}

func TestValidateDuplicateStepID(t *testing.T) {
	doc := `
name: bad
description: d
version: 1.0.0
steps:
  - id: a
    agent: x
    prompt: hi
  - id: a
    agent: x
    prompt: hi
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{})
	if res.IsValid() {
		t.Fatal("expected duplicate id error")
	}
}

func TestValidateParallelRequiresForeach(t *testing.T) {
	doc := `
name: bad
description: d
version: 1.0.0
steps:
  - id: a
    agent: x
    prompt: hi
    parallel: true
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{})
	if res.IsValid() {
		t.Fatal("expected parallel-requires-foreach error")
	}
}

func TestValidateUnknownAgentWarns(t *testing.T) {
	doc := `
name: ok
description: d
version: 1.0.0
steps:
  - id: a
    agent: mystery
    prompt: hi
`
	r, err := recipeyaml.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipeyaml.ApplyDefaults(r)
	res := validate.Recipe(r, validate.Options{KnownAgents: map[string]bool{"known": true}})
	if !res.IsValid() {
		t.Fatalf("expected valid with warning, got errors: %v", res.Errors)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected unknown-agent warning")
	}
}
