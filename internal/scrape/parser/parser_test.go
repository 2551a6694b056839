package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoParser(t *testing.T) {
	src := []byte(`package demo

import (
	"fmt"
	"strings"
)

// Greet renders a greeting.
func Greet(name string) string {
	return fmt.Sprintf("hi %s", strings.ToUpper(name))
}

func run() {
	Greet("world")
}
`)
	p := ForFile("demo.go")
	require.NotNil(t, p)
	require.Equal(t, "go", p.Language())

	facts, err := p.Parse(src, "demo.go")
	require.NoError(t, err)

	require.Len(t, facts.Imports, 2)
	require.Equal(t, "fmt", facts.Imports[0].Path)

	require.Len(t, facts.Functions, 2)
	require.Equal(t, "Greet", facts.Functions[0].Name)
	require.Equal(t, "Greet renders a greeting.", facts.Functions[0].Doc)
	require.Contains(t, facts.Functions[0].Signature, "func Greet(name string) string")

	var callees []string
	for _, c := range facts.Calls {
		if c.Caller == "run" {
			callees = append(callees, c.Callee)
		}
	}
	require.Contains(t, callees, "Greet")
}

func TestRustParser(t *testing.T) {
	src := []byte(`use std::fmt;

/// Entry point.
fn main() {
    helper();
}

fn helper() {
    println!("ok");
}
`)
	p := ForFile("main.rs")
	require.NotNil(t, p)

	facts, err := p.Parse(src, "main.rs")
	require.NoError(t, err)

	require.Len(t, facts.Functions, 2)
	require.Equal(t, "main", facts.Functions[0].Name)
	require.Equal(t, "Entry point.", facts.Functions[0].Doc)
	require.Equal(t, "helper", facts.Functions[1].Name)

	require.Len(t, facts.Imports, 1)
	require.Equal(t, "std::fmt", facts.Imports[0].Path)

	found := false
	for _, c := range facts.Calls {
		if c.Caller == "main" && c.Callee == "helper" {
			found = true
		}
	}
	require.True(t, found, "main should call helper")
}

func TestPythonParser(t *testing.T) {
	src := []byte(`import os
from pathlib import Path

def load(path):
    return Path(path).read_text()

def main():
    load("x")
`)
	p := ForFile("app.py")
	require.NotNil(t, p)

	facts, err := p.Parse(src, "app.py")
	require.NoError(t, err)

	require.Len(t, facts.Imports, 2)
	require.Equal(t, "os", facts.Imports[0].Path)
	require.Equal(t, "pathlib", facts.Imports[1].Path)

	require.Len(t, facts.Functions, 2)

	found := false
	for _, c := range facts.Calls {
		if c.Caller == "main" && c.Callee == "load" {
			found = true
		}
	}
	require.True(t, found)
}

func TestTypeScriptParser(t *testing.T) {
	src := []byte(`import { fetch } from "./client";

export function sync(): void {
  fetch("/api");
}

export const handler = (req) => {
  sync();
};
`)
	p := ForFile("index.ts")
	require.NotNil(t, p)

	facts, err := p.Parse(src, "index.ts")
	require.NoError(t, err)

	require.Len(t, facts.Imports, 1)
	require.Equal(t, "./client", facts.Imports[0].Path)

	names := []string{}
	for _, f := range facts.Functions {
		names = append(names, f.Name)
	}
	require.Contains(t, names, "sync")
	require.Contains(t, names, "handler")
}

func TestUnknownExtension(t *testing.T) {
	require.Nil(t, ForFile("README.md"))
	require.Nil(t, ForFile("data.json"))
}
