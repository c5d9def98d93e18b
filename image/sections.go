package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// WebAssembly binary format magic number and version.
const (
	wasmMagic   uint32 = 0x6D736100 // "\0asm" in little-endian
	wasmVersion uint32 = 0x01
)

const sectionCustom byte = 0

var (
	errInvalidMagic   = errors.New("invalid wasm magic number")
	errInvalidVersion = errors.New("invalid wasm version")
	errLEBOverflow    = errors.New("leb128: overflow")
)

// section is one custom section of the image, surfaced as a resource.
// Section names of the form "type/name" carry an explicit resource type;
// anything else gets type "custom".
type section struct {
	typ  string
	name string
	data []byte
}

// customSections walks the binary's section headers and collects every
// custom section. Non-custom sections are skipped without decoding; full
// validation is wazero's job during compile.
func customSections(data []byte) ([]section, error) {
	r := bytes.NewReader(data)

	magic, err := readU32LE(r)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if magic != wasmMagic {
		return nil, errInvalidMagic
	}
	version, err := readU32LE(r)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if version != wasmVersion {
		return nil, errInvalidVersion
	}

	var sections []section
	for {
		id, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("section header: %w", err)
		}

		size, err := readLEB128u(r)
		if err != nil {
			return nil, fmt.Errorf("section size: %w", err)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("section data: %w", err)
		}

		if id != sectionCustom {
			continue
		}

		sr := bytes.NewReader(payload)
		nameLen, err := readLEB128u(sr)
		if err != nil {
			return nil, fmt.Errorf("custom section name length: %w", err)
		}
		if int(nameLen) > sr.Len() {
			return nil, fmt.Errorf("custom section name length %d exceeds section", nameLen)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(sr, name); err != nil {
			return nil, fmt.Errorf("custom section name: %w", err)
		}
		rest := make([]byte, sr.Len())
		if _, err := io.ReadFull(sr, rest); err != nil {
			return nil, fmt.Errorf("custom section payload: %w", err)
		}

		typ, rname := splitSectionName(string(name))
		sections = append(sections, section{typ: typ, name: rname, data: rest})
	}

	return sections, nil
}

func splitSectionName(full string) (typ, name string) {
	if i := strings.IndexByte(full, '/'); i > 0 {
		return full[:i], full[i+1:]
	}
	return "custom", full
}

// readLEB128u reads an unsigned 32-bit LEB128 value
func readLEB128u(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errLEBOverflow
		}
	}
}

func readU32LE(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}
