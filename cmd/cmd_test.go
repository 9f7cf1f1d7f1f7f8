package cmd

import (
	"bytes"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/abe-nagisa/zip64/zip64"
	homedir "github.com/mitchellh/go-homedir"
)

// run executes the root command with args. Flag values stick to the command
// tree between executions, so every flag is put back to its default first.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	homedir.DisableCache = true
	t.Setenv("HOME", t.TempDir())

	defaults := []struct {
		set   func(name, value string) error
		name  string
		value string
	}{
		{rootCmd.PersistentFlags().Set, "max32", strconv.FormatUint(zip64.DefaultThresholds.Max32, 10)},
		{rootCmd.PersistentFlags().Set, "max16", strconv.FormatUint(zip64.DefaultThresholds.Max16, 10)},
		{rootCmd.PersistentFlags().Set, "chunk-size", strconv.Itoa(zip64.DefaultChunkSize)},
		{rootCmd.PersistentFlags().Set, "log-level", "warning"},
		{createCmd.Flags().Set, "method", "deflate"},
		{createCmd.Flags().Set, "comment", ""},
		{listCmd.Flags().Set, "url", ""},
		{extractCmd.PersistentFlags().Set, "url", ""},
		{extractCmd.PersistentFlags().Set, "path", "."},
	}
	for _, d := range defaults {
		if err := d.set(d.name, d.value); err != nil {
			t.Fatalf("reset --%s: %v", d.name, err)
		}
	}

	var out bytes.Buffer
	rootCmd.SetOutput(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		t.Fatal(err)
	}
}

func noise(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

// sourceTree lays out src/ under dir and returns the file contents by
// entry name.
func sourceTree(t *testing.T, dir string) map[string][]byte {
	files := map[string][]byte{
		"src/a.txt":     bytes.Repeat([]byte("alpha "), 500),
		"src/sub/b.bin": noise(5000),
		"src/sub/c.txt": []byte("c"),
	}
	for name, data := range files {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(name)), data)
	}
	return files
}

func checkExtracted(t *testing.T, dir string, files map[string][]byte) {
	t.Helper()
	for name, want := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		got, err := os.ReadFile(path)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s: extracted content differs", name)
		}
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if fi.Mode().Perm() != 0640 {
			t.Errorf("%s: mode %v", name, fi.Mode())
		}
	}
}

func TestCreateListVerifyExtract(t *testing.T) {
	dir := t.TempDir()
	files := sourceTree(t, dir)
	archive := filepath.Join(dir, "out.zip")

	out, err := run(t, "create", archive, filepath.Join(dir, "src"), "--comment", "nightly")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "5 entries") {
		t.Errorf("create output %q", out)
	}

	out, err = run(t, "list", archive)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"src/", "src/sub/", "src/a.txt", "src/sub/b.bin", "src/sub/c.txt", "comment: nightly"} {
		if !strings.Contains(out, name) {
			t.Errorf("list output lacks %q:\n%s", name, out)
		}
	}
	if !strings.Contains(out, "deflate") {
		t.Errorf("list output lacks the method:\n%s", out)
	}

	out, err = run(t, "verify", archive)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "5 entries ok (classic trailer)") {
		t.Errorf("verify output %q", out)
	}

	dest := filepath.Join(dir, "dest")
	if _, err := run(t, "extract", archive, "--path", dest); err != nil {
		t.Fatal(err)
	}
	checkExtracted(t, dest, files)
}

func TestCreateZip64(t *testing.T) {
	dir := t.TempDir()
	files := sourceTree(t, dir)
	archive := filepath.Join(dir, "big.zip")

	if _, err := run(t, "create", archive, filepath.Join(dir, "src"),
		"--method", "store", "--max32", "4096", "--max16", "2", "--chunk-size", "1000"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "verify", archive)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "(zip64 trailer)") {
		t.Errorf("verify output %q", out)
	}

	dest := filepath.Join(dir, "dest")
	if _, err := run(t, "extract", archive, "--path", dest); err != nil {
		t.Fatal(err)
	}
	checkExtracted(t, dest, files)

	for _, method := range []string{"lzma", "zstd"} {
		archive := filepath.Join(dir, method+".zip")
		if _, err := run(t, "create", archive, filepath.Join(dir, "src"), "--method", method); err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		if _, err := run(t, "verify", archive); err != nil {
			t.Errorf("%s: %v", method, err)
		}
	}
}

func TestRemoveCommand(t *testing.T) {
	dir := t.TempDir()
	sourceTree(t, dir)
	archive := filepath.Join(dir, "out.zip")
	if _, err := run(t, "create", archive, filepath.Join(dir, "src")); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "remove", archive, "src/sub/b.bin", "src/a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "3 entries left") {
		t.Errorf("remove output %q", out)
	}
	out, err = run(t, "list", archive)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "b.bin") || strings.Contains(out, "a.txt") || !strings.Contains(out, "src/sub/c.txt") {
		t.Errorf("list after remove:\n%s", out)
	}
	if _, err := run(t, "verify", archive); err != nil {
		t.Error(err)
	}

	if _, err := run(t, "remove", archive, "nope"); err == nil {
		t.Error("removing a missing entry succeeded")
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, ".zip64-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestRemoteArchive(t *testing.T) {
	dir := t.TempDir()
	files := sourceTree(t, dir)
	archive := filepath.Join(dir, "out.zip")
	if _, err := run(t, "create", archive, filepath.Join(dir, "src")); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "out.zip", time.Time{}, bytes.NewReader(data))
	}))
	defer ts.Close()

	out, err := run(t, "list", "--url", ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "src/sub/b.bin") {
		t.Errorf("remote list output:\n%s", out)
	}

	dest := filepath.Join(dir, "remote")
	if _, err := run(t, "extract", "--url", ts.URL, "--path", dest); err != nil {
		t.Fatal(err)
	}
	checkExtracted(t, dest, files)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "f"), []byte("f"))

	cases := []struct {
		name string
		args []string
	}{
		{"unknown method", []string{"create", filepath.Join(dir, "x.zip"), filepath.Join(dir, "f"), "--method", "bzip2"}},
		{"bad thresholds", []string{"create", filepath.Join(dir, "y.zip"), filepath.Join(dir, "f"), "--max16", "70000"}},
		{"zero chunk size", []string{"verify", filepath.Join(dir, "f"), "--chunk-size", "0"}},
		{"path and url", []string{"list", filepath.Join(dir, "f"), "--url", "http://localhost/"}},
		{"nothing to list", []string{"list"}},
		{"not an archive", []string{"verify", filepath.Join(dir, "f")}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := run(t, c.args...); err == nil {
				t.Errorf("%v succeeded", c.args)
			}
		})
	}
}

func TestFilePath(t *testing.T) {
	dir := filepath.FromSlash("/tmp/out")
	if p, err := filePath(dir, "a/b.txt"); err != nil || p != filepath.Join(dir, "a", "b.txt") {
		t.Errorf("filePath = %q, %v", p, err)
	}
	for _, name := range []string{"../evil", "a/../../evil", ".."} {
		if _, err := filePath(dir, name); err == nil {
			t.Errorf("%q was not rejected", name)
		}
	}
}

func TestBindFlags(t *testing.T) {
	if err := bindFlags(rootCmd, "max32", "log-level"); err != nil {
		t.Fatal(err)
	}
	if err := bindFlags(rootCmd, "max32", "no-such-flag"); err == nil {
		t.Error("binding a missing flag succeeded")
	}
}
