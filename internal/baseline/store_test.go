package baseline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/UXPLIMA/uxrcoder-hub/internal/types"
)

func TestAssertOrRecordThenAssert(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines"))
	img := []byte("menu-screenshot-v1")

	// First artifact records the baseline.
	res, err := s.Compare(Request{Key: "menu", Mode: types.BaselineAssertOrRecord, Ext: "png", Data: img})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !res.UpdatedBaseline || !res.Matched {
		t.Errorf("first compare = %+v, want updatedBaseline+matched", res)
	}
	if res.Reason != ReasonRecorded {
		t.Errorf("reason = %s", res.Reason)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "menu.png")); err != nil {
		t.Errorf("baseline file not written: %v", err)
	}

	// Identical bytes assert clean.
	res, err = s.Compare(Request{Key: "menu", Mode: types.BaselineAssert, Data: img})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !res.Matched || res.UpdatedBaseline {
		t.Errorf("identical assert = %+v", res)
	}
	if res.Reason != ReasonMatch || !res.BaselineFound {
		t.Errorf("reason = %s, found = %v", res.Reason, res.BaselineFound)
	}

	// Different bytes fail the assertion.
	res, err = s.Compare(Request{Key: "menu", Mode: types.BaselineAssert, Data: []byte("menu-screenshot-v2")})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Matched || !res.Failed() {
		t.Errorf("mismatch assert = %+v", res)
	}
	if res.Reason != ReasonMismatch {
		t.Errorf("reason = %s", res.Reason)
	}
	if res.IncomingHash == res.BaselineHash {
		t.Error("hashes equal on mismatch")
	}
}

func TestAssertMissing(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines"))

	res, err := s.Compare(Request{Key: "never-recorded", Mode: types.BaselineAssert, Data: []byte("x")})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if res.Matched || res.BaselineFound || res.Reason != ReasonMissing {
		t.Errorf("missing assert = %+v", res)
	}

	res, err = s.Compare(Request{Key: "never-recorded", Mode: types.BaselineAssert, Data: []byte("x"), AllowMissing: true})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !res.Matched || res.Reason != ReasonMissingAllowed {
		t.Errorf("allowed missing = %+v", res)
	}
	if res.UpdatedBaseline {
		t.Error("allowMissing recorded a baseline")
	}
}

func TestRecordOverwrites(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines"))

	if _, err := s.Compare(Request{Key: "hud", Mode: types.BaselineRecord, Ext: "png", Data: []byte("v1")}); err != nil {
		t.Fatalf("record: %v", err)
	}
	res, err := s.Compare(Request{Key: "hud", Mode: types.BaselineRecord, Ext: "jpg", Data: []byte("v2")})
	if err != nil {
		t.Fatalf("re-record: %v", err)
	}
	if !res.UpdatedBaseline || !res.BaselineFound {
		t.Errorf("re-record = %+v", res)
	}

	// The old extension is gone so lookup order cannot resurrect v1.
	if _, err := os.Stat(filepath.Join(s.Dir(), "hud.png")); !os.IsNotExist(err) {
		t.Error("superseded baseline still present")
	}
	check, err := s.Compare(Request{Key: "hud", Mode: types.BaselineAssert, Data: []byte("v2")})
	if err != nil {
		t.Fatalf("assert: %v", err)
	}
	if !check.Matched {
		t.Errorf("assert after re-record = %+v", check)
	}
}

func TestLookupExtensionOrder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "baselines")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// png outranks bin in the fixed order.
	if err := os.WriteFile(filepath.Join(dir, "scene.bin"), []byte("bin"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scene.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(dir)
	res, err := s.Compare(Request{Key: "scene", Mode: types.BaselineAssert, Data: []byte("png")})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if !res.Matched {
		t.Errorf("expected png baseline to win: %+v", res)
	}
	if filepath.Base(res.BaselinePath) != "scene.png" {
		t.Errorf("baselinePath = %s", res.BaselinePath)
	}
}

func TestRequestValidation(t *testing.T) {
	s := NewStore(t.TempDir())

	tests := []struct {
		name string
		req  Request
	}{
		{"bad key", Request{Key: "a/b", Mode: types.BaselineAssert}},
		{"empty key", Request{Key: "", Mode: types.BaselineAssert}},
		{"bad mode", Request{Key: "ok", Mode: "maybe"}},
		{"bad ext", Request{Key: "ok", Mode: types.BaselineRecord, Ext: "exe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Compare(tt.req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestList(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "baselines"))

	// Empty (nonexistent) dir lists nothing.
	infos, err := s.List()
	if err != nil || len(infos) != 0 {
		t.Fatalf("empty list = %v, %v", infos, err)
	}

	s.Compare(Request{Key: "b", Mode: types.BaselineRecord, Ext: "png", Data: []byte("1")})
	s.Compare(Request{Key: "a", Mode: types.BaselineRecord, Ext: "jpg", Data: []byte("22")})

	infos, err = s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "a" || infos[1].Key != "b" {
		t.Errorf("list = %+v", infos)
	}
	if infos[0].Ext != "jpg" || infos[0].Size != 2 {
		t.Errorf("info = %+v", infos[0])
	}
}
