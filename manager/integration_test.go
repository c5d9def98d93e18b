package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/wippyai/memloader"
)

// minimalWASM builds a valid module exporting nullary functions and
// importing nullary functions from other modules.
func minimalWASM(imports [][2]string, exports []string) []byte {
	uleb := func(v uint32) []byte {
		var out []byte
		for {
			b := byte(v & 0x7f)
			v >>= 7
			if v != 0 {
				b |= 0x80
			}
			out = append(out, b)
			if v == 0 {
				return out
			}
		}
	}
	name := func(s string) []byte { return append(uleb(uint32(len(s))), s...) }
	sec := func(id byte, payload []byte) []byte {
		out := append([]byte{id}, uleb(uint32(len(payload)))...)
		return append(out, payload...)
	}

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, sec(1, []byte{0x01, 0x60, 0x00, 0x00})...)

	if len(imports) > 0 {
		p := uleb(uint32(len(imports)))
		for _, imp := range imports {
			p = append(p, name(imp[0])...)
			p = append(p, name(imp[1])...)
			p = append(p, 0x00)
			p = append(p, uleb(0)...)
		}
		mod = append(mod, sec(2, p)...)
	}
	if len(exports) > 0 {
		p := uleb(uint32(len(exports)))
		for range exports {
			p = append(p, uleb(0)...)
		}
		mod = append(mod, sec(3, p)...)

		p = uleb(uint32(len(exports)))
		for i, n := range exports {
			p = append(p, name(n)...)
			p = append(p, 0x00)
			p = append(p, uleb(uint32(len(imports)+i))...)
		}
		mod = append(mod, sec(7, p)...)

		p = uleb(uint32(len(exports)))
		for range exports {
			p = append(p, 0x02, 0x00, 0x0b)
		}
		mod = append(mod, sec(10, p)...)
	}
	return mod
}

func minimalPackage(t *testing.T, manifest string, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("manifest.yaml")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte(manifest))
	for path, data := range files {
		fw, err := zw.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// End-to-end: a real wasm image whose import is satisfied by the
// subscriber recursively loading the dependency through the manager.
func TestIntegration_RecursiveImageLoad(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close(ctx)

	archive := map[string][]byte{
		"mathutil": minimalWASM(nil, []string{"add", "sub"}),
	}

	m.SetDependencyFunc(func(req *memloader.DependencyRequest) {
		data, ok := archive[req.Dependency]
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

	mainBytes := minimalWASM([][2]string{{"mathutil", "add"}}, []string{"run"})
	hMain, err := m.LoadImage(ctx, mainBytes, "main.wasm")
	if err != nil {
		t.Fatalf("load main: %v", err)
	}

	hDep := m.HandleByName("mathutil")
	if hDep == 0 {
		t.Fatal("dependency not in table")
	}
	if hDep == hMain {
		t.Fatal("dependency shares main's handle")
	}

	if _, err := m.Symbol(hMain, "run"); err != nil {
		t.Fatalf("Symbol(main, run): %v", err)
	}
	if _, err := m.Symbol(hDep, "add"); err != nil {
		t.Fatalf("Symbol(dep, add): %v", err)
	}

	if err := m.UnloadImage(hMain); err != nil {
		t.Fatalf("unload main: %v", err)
	}
	if m.HandleByName("mathutil") != hDep {
		t.Fatal("dependency should remain: it holds its own reference")
	}
	if err := m.UnloadImage(hDep); err != nil {
		t.Fatalf("unload dep: %v", err)
	}
}

func TestIntegration_PackageLoad(t *testing.T) {
	ctx := context.Background()
	m, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close(ctx)

	pkg := minimalPackage(t, `
name: assets
version: 0.9.0
resources:
  - name: motd
    type: text
    path: motd.txt
`, map[string][]byte{"motd.txt": []byte("hi")})

	var vetted int
	h, err := m.LoadPackage(ctx, pkg, "assets.pkg", func(name string, data []byte) error {
		vetted++
		return nil
	})
	if err != nil {
		t.Fatalf("LoadPackage: %v", err)
	}
	if vetted != 1 {
		t.Fatalf("validator ran %d times, want 1", vetted)
	}

	res, err := m.FindResource(h, "motd", "text")
	if err != nil {
		t.Fatalf("FindResource: %v", err)
	}
	data, err := m.ResourceData(h, res)
	if err != nil || string(data) != "hi" {
		t.Fatalf("ResourceData = %q, %v", data, err)
	}

	// Packages and images share one handle namespace and unload paths
	// stay kind-checked.
	if err := m.UnloadImage(h); err == nil {
		t.Fatal("image-unload of a package handle must fail")
	}
	if err := m.UnloadPackage(h); err != nil {
		t.Fatalf("UnloadPackage: %v", err)
	}
}
