//go:build mage

// Package main contains Mage build targets for arxiv-digest developer tooling.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binDir     = "bin"
	binName    = "arxiv-digest"
	cmdPkg     = "./cmd/arxiv-digest"
	configFile = "arxiv-digest.yaml"
	secretsDir = ".secrets"
)

// sampleConfig is written by Init when no config file exists.
const sampleConfig = `catalog:
  categories: [cs.AI, cs.CL]
  max_results: 100

filter:
  use_keywords: true
  keywords: [agent, reasoning]
  use_relevance: false
  topic: ""

translate:
  enabled: false
  workers: 1

store:
  path: papers.json
  defer_persist: false

table:
  enabled: false
  base_url: ""

history:
  enabled: true
  path: history.db

logging:
  level: info
  format: console
`

// Init creates the secrets directory and a sample config file.
func Init() error {
	if err := os.MkdirAll(secretsDir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", secretsDir, err)
	}
	fmt.Println("  ", secretsDir+"/")

	if _, err := os.Stat(configFile); err == nil {
		fmt.Printf("   %s exists, leaving it alone\n", configFile)
	} else if err := os.WriteFile(configFile, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", configFile, err)
	} else {
		fmt.Println("  ", configFile)
	}
	fmt.Println("Project initialized. Put llm-api-key, table-app-id and table-app-secret in .secrets/.")
	return nil
}

// Build compiles the CLI binary into bin/.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", binDir, err)
	}
	out := filepath.Join(binDir, binName)
	ldflags := "-X main.version=" + gitVersion()
	if err := sh.RunV("go", "build", "-ldflags", ldflags, "-o", out, cmdPkg); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	fmt.Printf("Built %s\n", out)
	return nil
}

// Test runs the unit tests.
func Test() error {
	return sh.RunV("go", "test", "./...")
}

// Run builds the CLI and performs one digest run with the local config.
func Run() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "run")
}

// DryRun builds the CLI and shows what a run would deliver without writing anything.
func DryRun() error {
	mg.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binName), "run", "--dry-run")
}

// Stats prints project metrics: Go production/test LOC and documentation word count.
func Stats() error {
	prodLines, testLines, err := countGoLines(".")
	if err != nil {
		return err
	}
	docWords, err := countDocWords(".")
	if err != nil {
		return err
	}

	fmt.Printf("Lines of code (Go, production): %d\n", prodLines)
	fmt.Printf("Lines of code (Go, tests):      %d\n", testLines)
	fmt.Printf("Words (documentation):           %d\n", docWords)
	return nil
}

func gitVersion() string {
	v, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || v == "" {
		return "dev"
	}
	return v
}

// skipDir reports directories that are not part of the project sources.
func skipDir(name string) bool {
	return name == binDir || name == ".git" || strings.HasPrefix(name, "_")
}

// countGoLines counts non-blank lines in production and test Go files.
func countGoLines(root string) (prod, test int, err error) {
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		n := nonBlankLines(data)
		if strings.HasSuffix(path, "_test.go") {
			test += n
		} else {
			prod += n
		}
		return nil
	})
	return prod, test, err
}

// countDocWords counts words in Markdown files outside skipped directories.
func countDocWords(root string) (int, error) {
	total := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".md" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		total += len(bytes.Fields(data))
		return nil
	})
	return total, err
}

func nonBlankLines(data []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}
