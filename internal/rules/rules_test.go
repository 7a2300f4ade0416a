package rules

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestDirectionMatches(t *testing.T) {
	cases := []struct {
		dir   Direction
		delta float64
		want  bool
	}{
		{Both, -1, true},
		{Both, 0, true},
		{"", -1, true},
		{Up, 1, true},
		{Up, 0, false},
		{Up, -1, false},
		{Down, -1, true},
		{Down, 0, false},
		{Down, 1, false},
	}
	for _, tc := range cases {
		if got := tc.dir.Matches(tc.delta); got != tc.want {
			t.Fatalf("%q.Matches(%v) = %v, 期望 %v", tc.dir, tc.delta, got, tc.want)
		}
	}
}

func TestSpecRuleDefaultsAndVariants(t *testing.T) {
	r, err := Spec{ID: "z", Type: "zscore", Window: 7, Threshold: 2}.Rule()
	if err != nil {
		t.Fatalf("合法 zscore 规则不应报错: %v", err)
	}
	z, ok := r.(ZScore)
	if !ok {
		t.Fatalf("应构造 ZScore, 实际 %T", r)
	}
	if z.Common().Direction != Both || z.Common().Severity != Warn {
		t.Fatalf("默认值不符: %+v", z.Common())
	}

	r, err = Spec{ID: "p", Type: "PCT_CHANGE", Window: 3, ThresholdPct: 15, Direction: "down", Severity: "crit", Notify: true}.Rule()
	if err != nil {
		t.Fatalf("合法 pct_change 规则不应报错: %v", err)
	}
	if p, ok := r.(PctChange); !ok || p.ThresholdPct != 15 || !p.Notify || p.Direction != Down {
		t.Fatalf("pct_change 字段不符: %#v", r)
	}
}

func TestSpecRuleRejects(t *testing.T) {
	if _, err := (Spec{ID: "x", Type: "median", Window: 3}).Rule(); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("未知类型应返回 ErrUnknownType, 实际 %v", err)
	}
	bad := []Spec{
		{ID: "", Type: "zscore", Window: 7, Threshold: 2},
		{ID: "w", Type: "zscore", Window: 1, Threshold: 2},
		{ID: "t", Type: "zscore", Window: 7},
		{ID: "p", Type: "pct_change", Window: 7},
		{ID: "d", Type: "zscore", Window: 7, Threshold: 2, Direction: "sideways"},
		{ID: "s", Type: "zscore", Window: 7, Threshold: 2, Severity: "fatal"},
	}
	for _, s := range bad {
		if _, err := s.Rule(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%+v 应校验失败, 实际 %v", s, err)
		}
	}
}

func TestFromSpecsSkipsInvalid(t *testing.T) {
	specs := append(Defaults(), Spec{ID: "bad", Type: "unknown", Window: 3})
	rs, errs := FromSpecs(specs)
	if len(rs) != 2 || len(errs) != 1 {
		t.Fatalf("应保留 2 条规则并报告 1 个错误, 实际 %d/%d", len(rs), len(errs))
	}
}

func TestLabel(t *testing.T) {
	z := ZScore{Base: Base{ID: "r1", Window: 7}, Threshold: 2}
	if got := Label(z); got != "±2.0σ over 7-period rolling" {
		t.Fatalf("zscore label 不符: %s", got)
	}
	p := PctChange{Base: Base{ID: "r2", Window: 6}, ThresholdPct: 12.5}
	if got := Label(p); got != "±12.5% change vs 6 periods ago" {
		t.Fatalf("pct label 不符: %s", got)
	}
}

func TestSetIsImmutable(t *testing.T) {
	rs, _ := FromSpecs(Defaults())
	base, err := NewSet(rs...)
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}

	added, err := base.Add(ZScore{Base: Base{ID: base.NextID(), Window: 5}, Threshold: 3})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if base.Len() != 2 || added.Len() != 3 {
		t.Fatalf("Add 不应修改原集合: %d/%d", base.Len(), added.Len())
	}
	if _, ok := added.Get("r3"); !ok {
		t.Fatal("NextID 应为 r3")
	}

	if _, err := added.Add(ZScore{Base: Base{ID: "r1", Window: 5}, Threshold: 3}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("重复 id 应报错, 实际 %v", err)
	}

	updated, err := added.Update(PctChange{Base: Base{ID: "r1", Window: 4, Notify: false}, ThresholdPct: 50})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if r, _ := updated.Get("r1"); r.Kind() != KindPctChange {
		t.Fatal("Update 应替换规则变体")
	}
	if !added.Notifiable("r1") || updated.Notifiable("r1") {
		t.Fatal("Update 不应影响旧集合")
	}
	if updated.Rules()[0].Common().ID != "r1" {
		t.Fatal("Update 应保持位置")
	}

	removed, err := updated.Remove("r2")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.Len() != 2 || updated.Len() != 3 {
		t.Fatal("Remove 不应修改原集合")
	}
	if _, err := removed.Remove("r2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("删除不存在的规则应报错, 实际 %v", err)
	}
	if removed.NextID() != "r4" {
		t.Fatalf("NextID 应跳过已占用 id, 实际 %s", removed.NextID())
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rules.yaml")

	empty, skipped, err := LoadFile(path)
	if err != nil || empty.Len() != 0 || len(skipped) != 0 {
		t.Fatalf("不存在的文件应返回空集合: %v %v", err, skipped)
	}

	rs, _ := FromSpecs(Defaults())
	set, _ := NewSet(rs...)
	if err := SaveFile(path, set); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	loaded, skipped, err := LoadFile(path)
	if err != nil || len(skipped) != 0 {
		t.Fatalf("LoadFile: %v %v", err, skipped)
	}
	if loaded.Len() != 2 || !loaded.Notifiable("r1") || loaded.Notifiable("r2") {
		t.Fatalf("读回的规则不符: %+v", loaded.Specs())
	}
	if r, _ := loaded.Get("r2"); r.(PctChange).ThresholdPct != 20 {
		t.Fatal("threshold_pct 未正确读回")
	}
}
