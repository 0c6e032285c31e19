package provider

import (
	"context"
	"testing"
)

func TestStubCreateTemplateReturnsClone(t *testing.T) {
	s := NewStub()
	a, err := s.CreateTemplate(context.Background())
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	a.Height = 999
	b, err := s.CreateTemplate(context.Background())
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	if b.Height == 999 {
		t.Fatal("CreateTemplate must return an independent copy, not share state across calls")
	}
}

func TestStubCreateTemplateNilErrors(t *testing.T) {
	s := &Stub{}
	if _, err := s.CreateTemplate(context.Background()); err != ErrNoTemplate {
		t.Fatalf("expected ErrNoTemplate, got %v", err)
	}
}

func TestStubSubmitSolutionHonorsAccept(t *testing.T) {
	s := NewStub()
	s.Accept = false
	ok, err := s.SubmitSolution(context.Background(), 1, 0, 0, nil)
	if err != nil {
		t.Fatalf("SubmitSolution: %v", err)
	}
	if ok {
		t.Fatal("SubmitSolution should report rejection when Accept is false")
	}

	s.Accept = true
	ok, err = s.SubmitSolution(context.Background(), 1, 0, 0, nil)
	if err != nil {
		t.Fatalf("SubmitSolution: %v", err)
	}
	if !ok {
		t.Fatal("SubmitSolution should report acceptance when Accept is true")
	}
}
