package image

import (
	"context"
	goerrors "errors"
	"testing"

	"github.com/wippyai/memloader"
	errs "github.com/wippyai/memloader/errors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { eng.Close(context.Background()) })
	return eng
}

func TestLoader_ParseAndSymbols(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	data := buildWASM(nil, []string{"run", "init", "checksum"}, nil)
	l := New(eng, nil)
	if err := l.Parse(ctx, "app.wasm", data); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer l.Close()

	if l.Name() != "app.wasm" {
		t.Fatalf("Name = %q", l.Name())
	}
	if l.Kind() != memloader.KindImage {
		t.Fatalf("Kind = %v", l.Kind())
	}

	// Tokens are dense, start at 1, and are stable across calls.
	seen := make(map[uintptr]string)
	for _, name := range []string{"run", "init", "checksum"} {
		tok, err := l.Symbol(name)
		if err != nil {
			t.Fatalf("Symbol(%s): %v", name, err)
		}
		if tok == 0 {
			t.Fatalf("Symbol(%s) returned the zero token", name)
		}
		if prev, dup := seen[tok]; dup {
			t.Fatalf("token %d assigned to both %s and %s", tok, prev, name)
		}
		seen[tok] = name

		again, _ := l.Symbol(name)
		if again != tok {
			t.Fatalf("Symbol(%s) unstable: %d then %d", name, tok, again)
		}

		fn, err := l.Function(tok)
		if err != nil {
			t.Fatalf("Function(%d): %v", tok, err)
		}
		if fn == nil {
			t.Fatalf("Function(%d) returned nil for export %s", tok, name)
		}
		if _, err := fn.Call(ctx); err != nil {
			t.Fatalf("calling export %s: %v", name, err)
		}
	}

	if _, err := l.Symbol("missing"); !goerrors.Is(err, &errs.Error{Phase: errs.PhaseLookup, Kind: errs.KindNotFound}) {
		t.Fatalf("Symbol(missing): %v", err)
	}
}

func TestLoader_Resources(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	data := buildWASM(nil, []string{"run"}, []wasmCustom{
		{name: "text/banner", data: []byte("hello world")},
		{name: "notes", data: []byte{0xde, 0xad}},
	})
	l := New(eng, nil)
	if err := l.Parse(ctx, "app.wasm", data); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer l.Close()

	res, err := l.FindResource("BANNER", "TEXT")
	if err != nil {
		t.Fatalf("FindResource: %v", err)
	}
	if res.Size != 11 || res.Type != "text" || res.Name != "banner" {
		t.Fatalf("unexpected descriptor: %+v", res)
	}

	got, err := l.ResourceData(res)
	if err != nil || string(got) != "hello world" {
		t.Fatalf("ResourceData = %q, %v", got, err)
	}
	size, err := l.ResourceSize(res)
	if err != nil || size != 11 {
		t.Fatalf("ResourceSize = %d, %v", size, err)
	}

	// A section name without a slash falls back to type "custom".
	res2, err := l.FindResource("notes", "custom")
	if err != nil {
		t.Fatalf("FindResource(notes): %v", err)
	}
	if res2.Size != 2 {
		t.Fatalf("notes size = %d", res2.Size)
	}

	if _, err := l.FindResource("banner", "icon"); !goerrors.Is(err, &errs.Error{Phase: errs.PhaseLookup, Kind: errs.KindNotFound}) {
		t.Fatalf("wrong-type lookup: %v", err)
	}

	if _, err := l.ResourceData(&memloader.Resource{Index: 99}); err == nil {
		t.Fatal("expected stale descriptor rejection")
	}
}

func TestLoader_ParseFailure(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	for _, tt := range []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("definitely not wasm")},
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0x00, 0x00, 0x00}},
		{"truncated", buildWASM(nil, []string{"run"}, nil)[:10]},
	} {
		t.Run(tt.name, func(t *testing.T) {
			l := New(eng, nil)
			err := l.Parse(ctx, "bad.wasm", tt.data)
			if !goerrors.Is(err, &errs.Error{Phase: errs.PhaseParse, Kind: errs.KindParseFailure}) {
				t.Fatalf("expected parse failure, got %v", err)
			}
			if cerr := l.Close(); cerr != nil {
				t.Fatalf("Close after failed parse: %v", cerr)
			}
		})
	}
}

func TestLoader_DoubleParse(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	data := buildWASM(nil, []string{"run"}, nil)
	l := New(eng, nil)
	if err := l.Parse(ctx, "app.wasm", data); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer l.Close()

	if err := l.Parse(ctx, "app.wasm", data); err == nil {
		t.Fatal("expected second Parse to fail")
	}
}

func TestLoader_DependencySupply(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	depBytes := buildWASM(nil, []string{"helper"}, nil)
	mainBytes := buildWASM([]wasmImport{{module: "dep", field: "helper"}}, []string{"run"}, nil)

	var requests []string
	l := New(eng, func(req *memloader.DependencyRequest) {
		requests = append(requests, req.Requester+"->"+req.Dependency)
		req.Action = memloader.DependencySupply
		req.Data = depBytes
		req.OwnsData = true
	})
	if err := l.Parse(ctx, "main.wasm", mainBytes); err != nil {
		t.Fatalf("Parse with supplied dependency: %v", err)
	}
	defer l.Close()

	if len(requests) != 1 || requests[0] != "main.wasm->dep" {
		t.Fatalf("unexpected request trace %v", requests)
	}
	if !eng.Resident("dep") {
		t.Fatal("supplied dependency not resident in engine")
	}
}

func TestLoader_DependencySupplyCopiesUnownedData(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	depBytes := buildWASM(nil, []string{"helper"}, nil)
	mainBytes := buildWASM([]wasmImport{{module: "scratch", field: "helper"}}, []string{"run"}, nil)

	scratch := append([]byte(nil), depBytes...)
	l := New(eng, func(req *memloader.DependencyRequest) {
		req.Action = memloader.DependencySupply
		req.Data = scratch
		req.OwnsData = false
	})
	if err := l.Parse(ctx, "main.wasm", mainBytes); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	defer l.Close()

	// Clobbering the subscriber's buffer after the callback must not
	// affect the loaded dependency.
	for i := range scratch {
		scratch[i] = 0
	}
	if !eng.Resident("scratch") {
		t.Fatal("dependency lost after subscriber buffer reuse")
	}
}

func TestLoader_DependencyResolved(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	dep := New(eng, nil)
	if err := dep.Parse(ctx, "dep", buildWASM(nil, []string{"helper"}, nil)); err != nil {
		t.Fatalf("parse dep: %v", err)
	}
	defer dep.Close()

	mainBytes := buildWASM([]wasmImport{{module: "dep", field: "helper"}}, []string{"run"}, nil)

	// The import is already resident, so the callback must not fire at all.
	l := New(eng, func(req *memloader.DependencyRequest) {
		t.Errorf("unexpected dependency request for %q", req.Dependency)
		req.Action = memloader.DependencyFail
	})
	if err := l.Parse(ctx, "main.wasm", mainBytes); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l.Close()
}

func TestLoader_DependencyResolvedButAbsent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	mainBytes := buildWASM([]wasmImport{{module: "ghost", field: "helper"}}, []string{"run"}, nil)

	l := New(eng, func(req *memloader.DependencyRequest) {
		req.Action = memloader.DependencyResolved // lie: nothing was loaded
	})
	err := l.Parse(ctx, "main.wasm", mainBytes)
	if err == nil {
		t.Fatal("expected failure for falsely resolved dependency")
	}
	l.Close()
}

func TestLoader_DependencyFail(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	mainBytes := buildWASM([]wasmImport{{module: "missing", field: "f"}}, []string{"run"}, nil)

	// No callback at all.
	l := New(eng, nil)
	if err := l.Parse(ctx, "main.wasm", mainBytes); err == nil {
		t.Fatal("expected failure without a dependency callback")
	}
	l.Close()

	// Callback that declines.
	l2 := New(eng, func(req *memloader.DependencyRequest) {
		req.Action = memloader.DependencyFail
	})
	if err := l2.Parse(ctx, "main2.wasm", mainBytes); err == nil {
		t.Fatal("expected failure when subscriber declines")
	}
	l2.Close()
}

func TestCustomSections_Scan(t *testing.T) {
	data := buildWASM(nil, []string{"run"}, []wasmCustom{
		{name: "icon/app", data: []byte{1, 2, 3}},
		{name: "plain", data: nil},
	})

	sections, err := customSections(data)
	if err != nil {
		t.Fatalf("customSections: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if sections[0].typ != "icon" || sections[0].name != "app" || len(sections[0].data) != 3 {
		t.Fatalf("section 0 = %+v", sections[0])
	}
	if sections[1].typ != "custom" || sections[1].name != "plain" {
		t.Fatalf("section 1 = %+v", sections[1])
	}
}

func TestCustomSections_BadHeader(t *testing.T) {
	if _, err := customSections([]byte("nope")); err == nil {
		t.Fatal("expected header error")
	}
	if _, err := customSections([]byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0x00, 0x00, 0x00}); err == nil {
		t.Fatal("expected version error")
	}
}
