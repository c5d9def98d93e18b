package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/memloader"
	"github.com/wippyai/memloader/manager"
)

func main() {
	var (
		moduleFile  = flag.String("module", "", "Path to a module file (loaded fully into memory first)")
		isPkg       = flag.Bool("pkg", false, "Treat -module as a data package instead of an image")
		depsDir     = flag.String("deps", "", "Directory snapshotted into memory for dependency resolution")
		symName     = flag.String("sym", "", "Symbol to resolve after loading")
		resSpec     = flag.String("res", "", "Resource to find, as type/name")
		list        = flag.Bool("list", false, "List loaded modules and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if *moduleFile == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: inspect -module <file> [-pkg] [-deps dir] [-sym name] [-res type/name] [-list]")
		fmt.Fprintln(os.Stderr, "       inspect -i [-deps dir]  (interactive mode)")
		os.Exit(1)
	}

	log := zap.NewNop()
	if *verbose {
		dev, err := zap.NewDevelopment()
		if err == nil {
			log = dev
		}
	}

	if *interactive {
		if err := runInteractive(*depsDir, log); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*moduleFile, *isPkg, *depsDir, *symName, *resSpec, *list, log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// snapshotDir reads every regular file under dir into memory, keyed by
// file name without extension and by full base name. Loads always happen
// from these buffers, never from the filesystem.
func snapshotDir(dir string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	if dir == "" {
		return out, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read deps dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		out[e.Name()] = data
		if stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())); stem != e.Name() {
			out[stem] = data
		}
	}
	return out, nil
}

// subscribe wires a dependency subscriber that answers requests from the
// directory snapshot by loading through the manager.
func subscribe(ctx context.Context, m *manager.Manager, snapshot map[string][]byte) {
	m.SetDependencyFunc(func(req *memloader.DependencyRequest) {
		data, ok := snapshot[req.Dependency]
		if !ok {
			req.Action = memloader.DependencyFail
			return
		}
		if _, err := m.LoadImage(ctx, data, req.Dependency); err != nil {
			req.Action = memloader.DependencyFail
			return
		}
		req.Action = memloader.DependencyResolved
	})
}

func run(moduleFile string, isPkg bool, depsDir, symName, resSpec string, list bool, log *zap.Logger) error {
	ctx := context.Background()

	data, err := os.ReadFile(moduleFile)
	if err != nil {
		return fmt.Errorf("read module file: %w", err)
	}
	snapshot, err := snapshotDir(depsDir)
	if err != nil {
		return err
	}

	m, err := manager.New(ctx, manager.WithLogger(log))
	if err != nil {
		return err
	}
	defer m.Close(ctx)
	subscribe(ctx, m, snapshot)

	name := filepath.Base(moduleFile)
	var h memloader.Handle
	if isPkg {
		h, err = m.LoadPackage(ctx, data, name, nil)
	} else {
		h, err = m.LoadImage(ctx, data, name)
	}
	if err != nil {
		return err
	}
	fmt.Printf("loaded %s as handle %#x\n", name, uint32(h))

	if list {
		for _, mod := range m.Modules() {
			fmt.Printf("  %#-6x %-8s refs=%d  %s\n",
				uint32(mod.Handle), mod.Kind, mod.Refs, mod.Name)
		}
	}

	if symName != "" {
		tok, err := m.Symbol(h, symName)
		if err != nil {
			return err
		}
		fmt.Printf("symbol %s = token %#x\n", symName, tok)
	}

	if resSpec != "" {
		typ, rname, found := strings.Cut(resSpec, "/")
		if !found {
			return fmt.Errorf("resource spec must be type/name, got %q", resSpec)
		}
		res, err := m.FindResource(h, rname, typ)
		if err != nil {
			return err
		}
		size, err := m.ResourceSize(h, res)
		if err != nil {
			return err
		}
		fmt.Printf("resource %s/%s: %d bytes\n", res.Type, res.Name, size)
	}

	return nil
}
