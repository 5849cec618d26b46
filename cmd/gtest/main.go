// gtest runs the compiler over golden test cases. Each input has a golden
// file next to it (.<input>.json) recording the compiler's exit code,
// diagnostics and every file it wrote; a case passes when a fresh run
// reproduces all of them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

type Execution struct {
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
}

// CaseResult is what a golden file stores.
type CaseResult struct {
	InputHash string            `json:"input_hash"`
	Compile   Execution         `json:"compile"`
	Outputs   map[string]string `json:"outputs"`
}

type FileTestResult struct {
	File    string      `json:"file"`
	Status  string      `json:"status"` // PASS, FAIL, SKIP, ERROR
	Message string      `json:"message,omitempty"`
	Diff    string      `json:"diff,omitempty"`
	Target  *CaseResult `json:"target,omitempty"`
}

var (
	compiler       = flag.String("compiler", "./aslc", "Path to the compiler under test.")
	compilerArgs   = flag.String("compiler-args", "", "Extra compiler arguments (space-separated).")
	generateGolden = flag.String("generate-golden", "", "Write the golden file for the given input.")
	testFiles      = flag.String("test-files", "tests/*.json", "Glob pattern(s) of inputs to test (space-separated).")
	skipFiles      = flag.String("skip-files", "", "Inputs to skip (space-separated).")
	outputJSON     = flag.String("output", ".test_results.json", "Output file for the JSON test report.")
	timeout        = flag.Duration("timeout", 10*time.Second, "Timeout for each compiler run.")
	jobs           = flag.Int("j", 4, "Number of parallel test jobs.")
	verbose        = flag.Bool("v", false, "Enable verbose logging.")
	goldenDir      = flag.String("dir", "", "Directory to store/read golden files (defaults to the input's directory).")
	ignoreLines    = flag.String("ignore-lines", "", "Comma-separated substrings; diagnostic lines containing one are ignored.")
)

const (
	cRed    = "\x1b[91m"
	cYellow = "\x1b[93m"
	cGreen  = "\x1b[92m"
	cCyan   = "\x1b[96m"
	cBold   = "\x1b[1m"
	cNone   = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)

	tempDir, err := os.MkdirTemp("", "gtest-*")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to create temp directory: %v\n", cRed, cNone, err)
	}
	defer os.RemoveAll(tempDir)
	setupInterruptHandler(tempDir)

	if *generateGolden != "" {
		handleGenerateGolden(*generateGolden, tempDir)
		return
	}
	if failed := handleRunTestSuite(tempDir); failed {
		os.RemoveAll(tempDir)
		os.Exit(1)
	}
}

func setupInterruptHandler(tempDir string) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		os.RemoveAll(tempDir)
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled. Cleaning up...\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func goldenPath(input string) string {
	name := "." + filepath.Base(input) + ".json"
	if *goldenDir != "" {
		return filepath.Join(*goldenDir, name)
	}
	return filepath.Join(filepath.Dir(input), name)
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum64()), nil
}

// compile runs the compiler on input with a private output directory and
// collects everything it wrote.
func compile(input, tempDir, hash string) (*CaseResult, error) {
	outDir := filepath.Join(tempDir, hash)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	args := append(strings.Fields(*compilerArgs), "-o", outDir, input)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, *compiler, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &CaseResult{
		InputHash: hash,
		Compile:   Execution{Stderr: stderr.String(), Duration: time.Since(start)},
		Outputs:   make(map[string]string),
	}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Compile.TimedOut = true
		res.Compile.ExitCode = -1
	case errors.As(err, &exitErr):
		res.Compile.ExitCode = exitErr.ExitCode()
	case err != nil:
		return nil, fmt.Errorf("could not run '%s': %w", *compiler, err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			return nil, err
		}
		res.Outputs[e.Name()] = string(data)
	}
	if *verbose {
		log.Printf("[%s] exit %d in %v, %d output file(s)", input, res.Compile.ExitCode, res.Compile.Duration, len(res.Outputs))
	}
	return res, nil
}

func handleGenerateGolden(input, tempDir string) {
	hash, err := hashFile(input)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not hash %s: %v\n", cRed, cNone, input, err)
	}
	res, err := compile(input, tempDir, hash)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Could not compile %s: %v\n", cRed, cNone, input, err)
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("%s[ERROR]%s Failed to marshal golden data: %v\n", cRed, cNone, err)
	}
	path := goldenPath(input)
	if *goldenDir != "" {
		if err := os.MkdirAll(*goldenDir, 0o755); err != nil {
			log.Fatalf("%s[ERROR]%s Failed to create directory %s: %v\n", cRed, cNone, *goldenDir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("%s[ERROR]%s Failed to write golden file %s: %v\n", cRed, cNone, path, err)
	}
	log.Printf("%s[SUCCESS]%s Golden file created at %s\n", cGreen, cNone, path)
}

func handleRunTestSuite(tempDir string) (failed bool) {
	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test files found matching the pattern(s).")
		return false
	}

	skip := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skip[f] = true
	}

	type task struct{ file, hash string }
	tasks := make(chan task, len(files))
	results := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < max(*jobs, 1); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				results <- testFile(t.file, tempDir, t.hash)
			}
		}()
	}

	// Inputs with identical content are run once.
	seen := make(map[string]string)
	for _, file := range files {
		if skip[file] {
			results <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		hash, err := hashFile(file)
		if err != nil {
			results <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read file for hashing: %v", err)}
			continue
		}
		if orig, ok := seen[hash]; ok {
			results <- &FileTestResult{File: file, Status: "SKIP", Message: fmt.Sprintf("Content is identical to %s", orig)}
			continue
		}
		seen[hash] = file
		tasks <- task{file, hash}
	}
	close(tasks)
	wg.Wait()
	close(results)

	var all []*FileTestResult
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].File < all[j].File })

	printSummary(all)
	writeJSONReport(all)
	for _, r := range all {
		if r.Status == "FAIL" || r.Status == "ERROR" {
			return true
		}
	}
	return false
}

func testFile(file, tempDir, hash string) *FileTestResult {
	data, err := os.ReadFile(goldenPath(file))
	if err != nil {
		return &FileTestResult{File: file, Status: "SKIP", Message: "No golden file; create one with --generate-golden"}
	}
	var golden CaseResult
	if err := json.Unmarshal(data, &golden); err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Could not parse golden file: %v", err)}
	}

	got, err := compile(file, tempDir, hash)
	if err != nil {
		return &FileTestResult{File: file, Status: "ERROR", Message: err.Error()}
	}
	if got.Compile.TimedOut {
		return &FileTestResult{File: file, Status: "FAIL", Message: fmt.Sprintf("Compiler timed out after %v", *timeout), Target: got}
	}

	msg := "Output matches golden file"
	if golden.InputHash != hash {
		msg += " (golden file predates the current input)"
	}
	if diff := cmp.Diff(comparable(&golden), comparable(got)); diff != "" {
		return &FileTestResult{File: file, Status: "FAIL", Message: "Output differs from golden file", Diff: diff, Target: got}
	}
	return &FileTestResult{File: file, Status: "PASS", Message: msg, Target: got}
}

type comparedResult struct {
	ExitCode int
	Stderr   []string
	Outputs  map[string]string
}

// comparable drops timing and ignored diagnostic lines.
func comparable(r *CaseResult) comparedResult {
	var ignored []string
	for _, s := range strings.Split(*ignoreLines, ",") {
		if s = strings.TrimSpace(s); s != "" {
			ignored = append(ignored, s)
		}
	}
	var lines []string
	for _, l := range strings.Split(strings.TrimRight(r.Compile.Stderr, "\n"), "\n") {
		keep := l != ""
		for _, s := range ignored {
			if strings.Contains(l, s) {
				keep = false
			}
		}
		if keep {
			lines = append(lines, l)
		}
	}
	return comparedResult{ExitCode: r.Compile.ExitCode, Stderr: lines, Outputs: r.Outputs}
}

func expandGlobPatterns(patterns string) ([]string, error) {
	set := make(map[string]bool)
	for _, p := range strings.Fields(patterns) {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		for _, m := range matches {
			set[m] = true
		}
	}
	files := make([]string, 0, len(set))
	for f := range set {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func printSummary(results []*FileTestResult) {
	counts := make(map[string]int)
	for _, r := range results {
		counts[r.Status]++
		color := map[string]string{"PASS": cGreen, "FAIL": cRed, "ERROR": cRed, "SKIP": cYellow}[r.Status]
		fmt.Printf("%s[%s]%s %s: %s\n", color, r.Status, cNone, r.File, r.Message)
		if r.Diff != "" {
			fmt.Printf("%s--- golden\n+++ current%s\n%s\n", cCyan, cNone, r.Diff)
		}
	}
	fmt.Printf("\n%sSummary:%s %d passed, %d failed, %d errors, %d skipped (%d total)\n",
		cBold, cNone, counts["PASS"], counts["FAIL"], counts["ERROR"], counts["SKIP"], len(results))
}

func writeJSONReport(results []*FileTestResult) {
	report := make(map[string]*FileTestResult, len(results))
	for _, r := range results {
		report[r.File] = r
	}
	path := *outputJSON
	if *goldenDir != "" {
		path = filepath.Join(*goldenDir, *outputJSON)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Printf("%s[WARN]%s Could not encode the test report: %v\n", cYellow, cNone, err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("%s[WARN]%s Could not write %s: %v\n", cYellow, cNone, path, err)
	}
}
