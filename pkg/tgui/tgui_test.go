package tgui

import (
	"strings"
	"testing"
)

func TestDataSplitRoundTrip(t *testing.T) {
	cases := []struct {
		scope, action string
		args          []string
	}{
		{"sub", "shape", []string{"regular"}},
		{"mod", "when", []string{"17", "10s"}},
		{"chan", "set", []string{"@mychannel"}},
		{"clean", "menu", nil},
	}
	for _, tc := range cases {
		data := Data(tc.scope, tc.action, tc.args...)
		if len(data) > MaxCallbackDataLen {
			t.Fatalf("Data(%q, %q) is %d bytes", tc.scope, tc.action, len(data))
		}
		scope, action, args := Split(data)
		if scope != tc.scope || action != tc.action {
			t.Fatalf("Split(%q) = %q, %q", data, scope, action)
		}
		if len(args) != len(tc.args) {
			t.Fatalf("Split(%q) args = %v, want %v", data, args, tc.args)
		}
		for i := range args {
			if args[i] != tc.args[i] {
				t.Fatalf("Split(%q) args = %v, want %v", data, args, tc.args)
			}
		}
	}
}

func TestSplitDegradesGracefully(t *testing.T) {
	if scope, action, args := Split(""); scope != "" || action != "" || args != nil {
		t.Fatalf("Split(\"\") = %q, %q, %v", scope, action, args)
	}
	if scope, action, _ := Split("mod"); scope != "mod" || action != "" {
		t.Fatalf("Split(\"mod\") = %q, %q", scope, action)
	}
}

func TestPaginate(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	pg := Paginate(items, 0, 10)
	if len(pg.Items) != 10 || pg.HasPrev || !pg.HasNext {
		t.Fatalf("page 0: len=%d prev=%v next=%v", len(pg.Items), pg.HasPrev, pg.HasNext)
	}

	pg = Paginate(items, 2, 10)
	if len(pg.Items) != 5 || !pg.HasPrev || pg.HasNext {
		t.Fatalf("last page: len=%d prev=%v next=%v", len(pg.Items), pg.HasPrev, pg.HasNext)
	}
	if pg.Items[0] != 20 {
		t.Fatalf("last page starts at %d, want 20", pg.Items[0])
	}

	// Out-of-range indexes clamp to the nearest valid page.
	if pg := Paginate(items, 99, 10); pg.Index != 2 || len(pg.Items) != 5 {
		t.Fatalf("index 99: index=%d len=%d", pg.Index, len(pg.Items))
	}
	if pg := Paginate(items, -1, 10); pg.Index != 0 || len(pg.Items) != 10 {
		t.Fatalf("index -1: index=%d len=%d", pg.Index, len(pg.Items))
	}
	if pg := Paginate([]int{}, 3, 10); pg.Index != 0 || len(pg.Items) != 0 {
		t.Fatalf("empty list: index=%d len=%d", pg.Index, len(pg.Items))
	}
}

func TestPageLabel(t *testing.T) {
	items := make([]int, 25)
	if got := Paginate(items, 0, 10).Label(); got != "Page 1/3 • 1–10 of 25" {
		t.Fatalf("Label = %q", got)
	}
	if got := Paginate(items, 2, 10).Label(); got != "Page 3/3 • 21–25 of 25" {
		t.Fatalf("Label = %q", got)
	}
	if got := Paginate([]int{}, 0, 10).Label(); got != "Page 1/1" {
		t.Fatalf("Label empty = %q", got)
	}
}

func TestEscAndWrappers(t *testing.T) {
	if got := Esc("<b> & co"); got != "&lt;b&gt; &amp; co" {
		t.Fatalf("Esc = %q", got)
	}
	if got := B("x<y"); got != "<b>x&lt;y</b>" {
		t.Fatalf("B = %q", got)
	}
	if got := Mention("alice", 7); string(got) != `<a href="tg://user?id=7">alice</a>` {
		t.Fatalf("Mention = %q", got)
	}
	if got := JoinH(" ", "a", "", "b"); got != "a b" {
		t.Fatalf("JoinH = %q", got)
	}
}

func TestTruncRunes(t *testing.T) {
	if got := TruncRunes("hello", 10); got != "hello" {
		t.Fatalf("no-op trunc = %q", got)
	}
	if got := TruncRunes("hello", 3); got != "hel…" {
		t.Fatalf("trunc = %q", got)
	}
	// Rune-aware, not byte-aware.
	if got := TruncRunes("héllo", 3); got != "hél…" {
		t.Fatalf("multibyte trunc = %q", got)
	}
	if got := TruncRunes("x", 0); got != "" {
		t.Fatalf("zero trunc = %q", got)
	}
}

func TestBuilderComposesHTML(t *testing.T) {
	msg := New().
		Title("📬", "Queue").
		KV("Type", "regular").
		Blank().
		Line("done & dusted").
		Build()
	if msg.Opt == nil || msg.Opt.ParseMode != "HTML" {
		t.Fatalf("opt = %+v", msg.Opt)
	}
	if !strings.Contains(msg.Text, "<b>Queue</b>") {
		t.Fatalf("title missing: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "done &amp; dusted") {
		t.Fatalf("line not escaped: %q", msg.Text)
	}
}
