package policy

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Bundle is a directory of .rego modules plus optional data.json.
type Bundle struct {
	Ref  string
	Dir  string
	Data map[string]any

	cleanup func()
}

// Close removes the temporary directory of an unpacked tarball.
func (b *Bundle) Close() {
	if b != nil && b.cleanup != nil {
		b.cleanup()
	}
}

const maxPolicyBytes = 25 << 20 // 25 MiB

// LoadBundle loads a directory or a .tar/.tgz archive.
func LoadBundle(ref string) (*Bundle, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("policy ref is required")
	}
	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("stat policy path: %w", err)
	}
	if info.IsDir() {
		data, err := readBundleData(filepath.Join(ref, "data.json"))
		if err != nil {
			return nil, err
		}
		return &Bundle{Ref: ref, Dir: ref, Data: data}, nil
	}
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".tar", ".tgz", ".gz":
		return unpackTarball(ref)
	default:
		return nil, fmt.Errorf("unsupported policy bundle file %s (want directory or .tar/.tgz)", ref)
	}
}

func unpackTarball(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tmp, err := os.MkdirTemp("", "semrel-policy-*")
	if err != nil {
		return nil, err
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }
	if err := untarBytes(tmp, raw); err != nil {
		cleanup()
		return nil, err
	}
	data, err := readBundleData(filepath.Join(tmp, "data.json"))
	if err != nil {
		cleanup()
		return nil, err
	}
	return &Bundle{Ref: path, Dir: tmp, Data: data, cleanup: cleanup}, nil
}

func untarBytes(dest string, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("empty policy bundle")
	}
	r := io.Reader(bytes.NewReader(payload))
	if bytes.HasPrefix(payload, []byte{0x1f, 0x8b}) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		name := filepath.Clean(strings.TrimPrefix(h.Name, "/"))
		if name == "." || name == "" {
			continue
		}
		if strings.Contains(name, "..") {
			return fmt.Errorf("invalid tar entry %q", h.Name)
		}
		outPath := filepath.Join(dest, name)
		switch h.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			_, err = io.CopyN(f, tr, maxPolicyBytes)
			_ = f.Close()
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
		}
	}
}

func readBundleData(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse data.json: %w", err)
	}
	return out, nil
}
