package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/arvhal/husk"
	"github.com/arvhal/husk/packing"
)

type CommandLine struct {
	Stub    string
	Runtime string
	Out     string
	Level   int
	Add     addFlags
}

// addFlags collects repeated -add name=path arguments.
type addFlags []string

func (a *addFlags) String() string {
	return strings.Join(*a, ",")
}

func (a *addFlags) Set(value string) error {
	if _, _, ok := strings.Cut(value, "="); !ok {
		return fmt.Errorf("expected name=path, got %q", value)
	}
	*a = append(*a, value)
	return nil
}

func main() {
	var cmd CommandLine
	flag.StringVar(&cmd.Stub, "stub", "", "Stub executable that should be augmented (must import husk)")
	flag.StringVar(&cmd.Runtime, "runtime", "", "Runtime wasm module, packed as "+husk.DefaultRuntimeEntry)
	flag.StringVar(&cmd.Out, "out", "", "Path for the resulting executable")
	flag.IntVar(&cmd.Level, "level", flate.BestCompression, "DEFLATE compression level (0=store, 1=fastest .. 9=best)")
	flag.Var(&cmd.Add, "add", "Additional payload entry as name=path (repeatable)")
	flag.Parse()
	if cmd.Stub == "" || cmd.Runtime == "" || cmd.Out == "" || flag.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: huskpack -stub <exe> -runtime <module.wasm> -out <exe> [-level n] [-add name=path ...]")
		flag.Usage()
		os.Exit(1)
	}

	paths := map[string]string{
		husk.DefaultRuntimeEntry: cmd.Runtime,
	}
	for _, arg := range cmd.Add {
		name, path, _ := strings.Cut(arg, "=")
		if _, exists := paths[name]; exists {
			log.Fatalf("Duplicate entry name %q", name)
		}
		info, err := os.Stat(path)
		if err != nil {
			log.Fatalf("Failed to probe entry %q at %q: %s", name, path, err)
		}
		if info.IsDir() {
			log.Fatalf("Cannot pack directories: %q at %q", name, path)
		}
		paths[name] = path
	}

	stub, err := os.Open(cmd.Stub)
	if err != nil {
		log.Fatalf("Failed to open stub %q: %s", cmd.Stub, err)
	}
	defer stub.Close()

	out, err := os.OpenFile(cmd.Out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0755)
	if err != nil {
		log.Fatalf("Failed to open output file %q: %s", cmd.Out, err)
	}
	defer out.Close()

	fmt.Printf("Augmenting %q --> %q\n", cmd.Stub, cmd.Out)

	logger := func(format string, args ...interface{}) {
		fmt.Printf("\t"+format+"\n", args...)
	}
	if err := packEntries(out, stub, paths, cmd.Level, logger); err != nil {
		out.Close()
		_ = os.Remove(cmd.Out)
		log.Fatalf("Packing failed: %s", err)
	}
	fmt.Println("Finished")
}

// packEntries opens all entry files and packs them onto the stub.
func packEntries(out, stub *os.File, paths map[string]string, level int, logger packing.PrintlnFunc) error {
	entries := make(map[string]io.Reader, len(paths))
	for name, path := range paths {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open entry %q (%q): %w", name, path, err)
		}
		//goland:noinspection ALL
		defer file.Close()
		entries[name] = file
	}
	return packing.PackLevel(out, stub, entries, level, logger)
}
