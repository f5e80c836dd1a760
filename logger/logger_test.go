package logger

import "testing"

func TestParseLevel(t *testing.T) {
	for _, lvl := range []string{"", "info", "DEBUG", "warn", "error"} {
		if _, err := parseLevel(lvl); err != nil {
			t.Fatalf("level %q rejected: %v", lvl, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestNewZapLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewZapLogger("verbose"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

type captured struct {
	msgs   []string
	fields [][]Field
}

func (c *captured) rec(msg string, f []Field) {
	c.msgs = append(c.msgs, msg)
	c.fields = append(c.fields, f)
}
func (c *captured) Debug(msg string, f ...Field) { c.rec(msg, f) }
func (c *captured) Info(msg string, f ...Field)  { c.rec(msg, f) }
func (c *captured) Warn(msg string, f ...Field)  { c.rec(msg, f) }
func (c *captured) Error(msg string, f ...Field) { c.rec(msg, f) }

func TestWithPrependsFieldsOnForeignLogger(t *testing.T) {
	base := &captured{}
	l := With(base, String("bot", "evenbot"))
	l.Info("hello", Int("n", 1))

	if len(base.msgs) != 1 || base.msgs[0] != "hello" {
		t.Fatalf("unexpected messages: %v", base.msgs)
	}
	got := base.fields[0]
	if len(got) != 2 || got[0].Key != "bot" || got[1].Key != "n" {
		t.Fatalf("unexpected fields: %+v", got)
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	l := With(NewNop(), String("k", "v"))
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e", Err(nil))
}
