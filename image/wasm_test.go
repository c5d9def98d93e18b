package image

// Helpers for building minimal WebAssembly binaries by hand. Every
// function has the signature () -> (); that is enough to exercise
// compilation, import resolution, export enumeration, and custom
// sections.

func uleb(v uint32) []byte {
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

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func wasmSection(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

type wasmImport struct {
	module string
	field  string
}

type wasmCustom struct {
	name string
	data []byte
}

// buildWASM assembles a valid module: optional imports and exports of
// nullary functions, plus custom sections appended at the end.
func buildWASM(imports []wasmImport, exports []string, customs []wasmCustom) []byte {
	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	// type section: a single () -> () signature
	mod = append(mod, wasmSection(1, []byte{0x01, 0x60, 0x00, 0x00})...)

	if len(imports) > 0 {
		payload := uleb(uint32(len(imports)))
		for _, imp := range imports {
			payload = append(payload, wasmName(imp.module)...)
			payload = append(payload, wasmName(imp.field)...)
			payload = append(payload, 0x00) // func import
			payload = append(payload, uleb(0)...)
		}
		mod = append(mod, wasmSection(2, payload)...)
	}

	if len(exports) > 0 {
		payload := uleb(uint32(len(exports)))
		for range exports {
			payload = append(payload, uleb(0)...)
		}
		mod = append(mod, wasmSection(3, payload)...)

		payload = uleb(uint32(len(exports)))
		for i, name := range exports {
			payload = append(payload, wasmName(name)...)
			payload = append(payload, 0x00) // func export
			payload = append(payload, uleb(uint32(len(imports)+i))...)
		}
		mod = append(mod, wasmSection(7, payload)...)

		payload = uleb(uint32(len(exports)))
		for range exports {
			// body: no locals, end
			payload = append(payload, 0x02, 0x00, 0x0b)
		}
		mod = append(mod, wasmSection(10, payload)...)
	}

	for _, c := range customs {
		payload := wasmName(c.name)
		payload = append(payload, c.data...)
		mod = append(mod, wasmSection(0, payload)...)
	}

	return mod
}
