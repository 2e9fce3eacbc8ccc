// Copyright 2024 The PDL Compiler Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// pdlc is a tool for compiling packet description language files.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/pdl-compiler/analyzer"
	"github.com/google/pdl-compiler/ast"
	"github.com/google/pdl-compiler/ir"
	"github.com/google/pdl-compiler/jsonast"
	"github.com/google/pdl-compiler/render/java"
	"github.com/google/pdl-compiler/render/rust"
	"github.com/google/pdl-compiler/testvec"
)

var commands = []struct {
	name string
	do   func(args []string) error
}{
	{"json", doJSON},
	{"code", doCode},
	{"testcode", doTestcode},
}

func usage() {
	fmt.Fprintf(os.Stderr, `pdlc is a tool for compiling packet description language files.

Usage:

	pdlc command [arguments]

The commands are:

	json      dump the input file's AST as bit-exact JSON
	code      generate target-language source code
	testcode  generate target-language unit tests from a test-vector file
`)
}

func main() {
	if err := main1(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main1() error {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}
	for _, c := range commands {
		if args[0] == c.name {
			return c.do(args[1:])
		}
	}
	usage()
	os.Exit(1)
	return nil
}

// sharedFlags are the flags every mode accepts, per §6's CLI surface.
type sharedFlags struct {
	input               string
	outputDir           string
	pkg                 string
	excludeDeclarations stringList
	customFields        stringList
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func registerSharedFlags(fs *flag.FlagSet, f *sharedFlags) {
	fs.StringVar(&f.input, "input", "", "path to the input AST file (JSON AST dump)")
	fs.StringVar(&f.outputDir, "output-dir", "", "output directory (required when multiple files are produced)")
	fs.StringVar(&f.pkg, "package", "", "target-specific package name")
	fs.Var(&f.excludeDeclarations, "exclude-declaration", "declaration name to omit from output (repeatable)")
	fs.Var(&f.customFields, "custom-field", "custom field module path (repeatable)")
}

func loadAndAnalyze(f *sharedFlags) (*analyzer.Result, error) {
	if f.input == "" {
		return nil, fmt.Errorf("pdlc: -input is required")
	}
	data, err := os.ReadFile(f.input)
	if err != nil {
		return nil, fmt.Errorf("pdlc: reading %s: %w", f.input, err)
	}
	file, err := jsonast.Load(data)
	if err != nil {
		return nil, fmt.Errorf("pdlc: %w", err)
	}
	file.Decls = excludeDecls(file.Decls, f.excludeDeclarations)

	result, diags := analyzer.Analyze(file)
	for _, d := range diags {
		fmt.Fprintln(os.Stderr, d.Error())
	}
	if analyzer.HasErrors(diags) {
		return nil, fmt.Errorf("pdlc: %s: analysis failed with %d diagnostic(s)", f.input, len(diags))
	}
	return result, nil
}

func excludeDecls(decls []ast.Decl, excluded []string) []ast.Decl {
	if len(excluded) == 0 {
		return decls
	}
	skip := make(map[string]bool, len(excluded))
	for _, name := range excluded {
		skip[name] = true
	}
	out := decls[:0:0]
	for _, d := range decls {
		if !skip[d.Name()] {
			out = append(out, d)
		}
	}
	return out
}

func doJSON(args []string) error {
	var f sharedFlags
	fs := flag.NewFlagSet("json", flag.ExitOnError)
	registerSharedFlags(fs, &f)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.input == "" {
		return fmt.Errorf("pdlc json: -input is required")
	}
	data, err := os.ReadFile(f.input)
	if err != nil {
		return fmt.Errorf("pdlc json: reading %s: %w", f.input, err)
	}
	file, err := jsonast.Load(data)
	if err != nil {
		return fmt.Errorf("pdlc json: %w", err)
	}
	file.Decls = excludeDecls(file.Decls, f.excludeDeclarations)

	out, err := jsonast.Marshal(file)
	if err != nil {
		return fmt.Errorf("pdlc json: %w", err)
	}
	return writeOutput(f.outputDir, "ast.json", out)
}

func doCode(args []string) error {
	var f sharedFlags
	var target string
	fs := flag.NewFlagSet("code", flag.ExitOnError)
	registerSharedFlags(fs, &f)
	fs.StringVar(&target, "target", "rust", "target language: rust or java")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := loadAndAnalyze(&f)
	if err != nil {
		return err
	}
	mod, err := ir.Build(result)
	if err != nil {
		return fmt.Errorf("pdlc code: %w", err)
	}

	switch target {
	case "rust":
		text, err := rust.Render(mod)
		if err != nil {
			return fmt.Errorf("pdlc code: %w", err)
		}
		return writeOutput(f.outputDir, "generated.rs", []byte(text))
	case "java":
		text, err := java.Render(mod, f.pkg)
		if err != nil {
			return fmt.Errorf("pdlc code: %w", err)
		}
		return writeOutput(f.outputDir, "Generated.java", []byte(text))
	default:
		return fmt.Errorf("pdlc code: unknown -target %q, want rust or java", target)
	}
}

func doTestcode(args []string) error {
	var f sharedFlags
	var target, vectorPath string
	fs := flag.NewFlagSet("testcode", flag.ExitOnError)
	registerSharedFlags(fs, &f)
	fs.StringVar(&target, "target", "rust", "target language: rust or java")
	fs.StringVar(&vectorPath, "vectors", "", "path to the test-vector JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if vectorPath == "" {
		return fmt.Errorf("pdlc testcode: -vectors is required")
	}

	result, err := loadAndAnalyze(&f)
	if err != nil {
		return err
	}
	mod, err := ir.Build(result)
	if err != nil {
		return fmt.Errorf("pdlc testcode: %w", err)
	}

	data, err := os.ReadFile(vectorPath)
	if err != nil {
		return fmt.Errorf("pdlc testcode: reading %s: %w", vectorPath, err)
	}
	packets, err := testvec.Parse(data)
	if err != nil {
		return fmt.Errorf("pdlc testcode: %w", err)
	}

	switch target {
	case "rust":
		text, err := testvec.GenerateRust(mod, packets)
		if err != nil {
			return fmt.Errorf("pdlc testcode: %w", err)
		}
		return writeOutput(f.outputDir, "generated_tests.rs", []byte(text))
	case "java":
		text, err := testvec.GenerateJava(mod, packets, f.pkg, "GeneratedTests")
		if err != nil {
			return fmt.Errorf("pdlc testcode: %w", err)
		}
		return writeOutput(f.outputDir, "GeneratedTests.java", []byte(text))
	default:
		return fmt.Errorf("pdlc testcode: unknown -target %q, want rust or java", target)
	}
}

func writeOutput(dir, name string, data []byte) error {
	if dir == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pdlc: creating %s: %w", dir, err)
	}
	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
