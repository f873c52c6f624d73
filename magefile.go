//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName         = "portwarden"
	srcDir             = "./src/cmd/portwarden"
	binDir             = "bin"
	coverageDir        = "coverage"
	versionFile        = "VERSION"
	versionVar         = "github.com/jongio/portwarden/src/cmd/portwarden/commands.Version"
	defaultTestTimeout = "10m"
)

// Default target runs all checks and builds.
var Default = All

// platforms are the release targets for BuildAll.
var platforms = []string{
	"windows/amd64",
	"windows/arm64",
	"linux/amd64",
	"linux/arm64",
	"darwin/amd64",
	"darwin/arm64",
}

// getVersion reads the version from the VERSION file, falling back to "dev".
func getVersion() string {
	data, err := os.ReadFile(versionFile)
	if err != nil {
		return "dev"
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		return v
	}
	return "dev"
}

func ldflags(version string) string {
	return fmt.Sprintf("-s -w -X %s=%s", versionVar, version)
}

func binaryFile(goos, goarch string) string {
	name := fmt.Sprintf("%s-%s-%s", binaryName, goos, goarch)
	if goos == "windows" {
		name += ".exe"
	}
	return filepath.Join(binDir, name)
}

// All runs lint, test, and build in dependency order.
func All() error {
	mg.Deps(Fmt, Lint, Test)
	return Build()
}

// Build compiles the binary for the current platform with version info.
func Build() error {
	fmt.Println("Building", binaryName+"...")
	version := getVersion()

	out := binaryFile(runtime.GOOS, runtime.GOARCH)
	if err := sh.RunV("go", "build", "-trimpath", "-ldflags", ldflags(version), "-o", out, srcDir); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Printf("✅ Build complete! Version: %s (%s)\n", version, out)
	return nil
}

// BuildAll builds for all platforms.
func BuildAll() error {
	fmt.Println("Building for all platforms...")
	version := getVersion()

	for _, platform := range platforms {
		goos, goarch, _ := strings.Cut(platform, "/")
		env := map[string]string{
			"GOOS":        goos,
			"GOARCH":      goarch,
			"CGO_ENABLED": "0",
		}
		out := binaryFile(goos, goarch)
		if err := sh.RunWithV(env, "go", "build", "-trimpath", "-ldflags", ldflags(version), "-o", out, srcDir); err != nil {
			return fmt.Errorf("build for %s failed: %w", platform, err)
		}
	}

	fmt.Println("✅ Build complete for all platforms!")
	return nil
}

// Test runs unit tests only (with -short flag).
func Test() error {
	fmt.Println("Running unit tests...")
	return sh.RunV("go", "test", "-short", "-timeout="+defaultTestTimeout, "./src/...")
}

// TestRace runs unit tests with the race detector.
func TestRace() error {
	fmt.Println("Running unit tests with -race...")
	return sh.RunV("go", "test", "-race", "-short", "-timeout="+defaultTestTimeout, "./src/...")
}

// TestCoverage runs tests with coverage report.
func TestCoverage() error {
	fmt.Println("Running tests with coverage...")

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	absCoverageDir := filepath.Join(cwd, coverageDir)

	_ = os.RemoveAll(absCoverageDir)
	if err := os.MkdirAll(absCoverageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create coverage directory at %s: %w", absCoverageDir, err)
	}

	coverageOut := filepath.Join(absCoverageDir, "coverage.out")
	coverageHTML := filepath.Join(absCoverageDir, "coverage.html")

	if err := sh.RunV("go", "test", "-short", "-coverprofile="+coverageOut, "./src/..."); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-html="+coverageOut, "-o", coverageHTML); err != nil {
		return fmt.Errorf("failed to generate HTML coverage: %w", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func="+coverageOut); err != nil {
		return fmt.Errorf("failed to display coverage summary: %w", err)
	}

	fmt.Println("Coverage report:", coverageHTML)
	return nil
}

// Lint runs golangci-lint on the codebase.
func Lint() error {
	fmt.Println("Running golangci-lint...")
	if err := sh.RunV("golangci-lint", "run", "./..."); err != nil {
		fmt.Println("⚠️  Linting failed. Ensure golangci-lint is installed:")
		fmt.Println("    go install github.com/golangci/golangci-lint/cmd/golangci-lint@latest")
		return err
	}
	return nil
}

// Fmt formats all Go code using gofmt.
func Fmt() error {
	fmt.Println("Formatting code...")
	if err := sh.RunV("gofmt", "-w", "-s", "./src", "magefile.go"); err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}
	fmt.Println("✅ Code formatted!")
	return nil
}

// Vet runs go vet for every supported GOOS so platform files are checked too.
func Vet() error {
	for _, goos := range []string{"windows", "linux", "darwin"} {
		fmt.Println("Vetting", goos+"...")
		if err := sh.RunWithV(map[string]string{"GOOS": goos}, "go", "vet", "./src/..."); err != nil {
			return fmt.Errorf("vet failed for %s: %w", goos, err)
		}
	}
	return nil
}

// Clean removes build artifacts and coverage reports.
func Clean() error {
	fmt.Println("Cleaning build artifacts...")
	for _, dir := range []string{binDir, coverageDir} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}
	fmt.Println("✅ Clean complete!")
	return nil
}

// Preflight runs every check a change should pass before review.
func Preflight() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Formatting", Fmt},
		{"Vetting all platforms", Vet},
		{"Linting", Lint},
		{"Running tests with -race", TestRace},
		{"Building", Build},
	}
	for _, step := range steps {
		fmt.Println("▶", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", strings.ToLower(step.name), err)
		}
	}
	fmt.Println("✅ Preflight passed!")
	return nil
}
