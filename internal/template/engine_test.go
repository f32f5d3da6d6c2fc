package template

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
)

func TestRenderStaticData(t *testing.T) {
	e := New()
	out, err := e.Render(`{"path":"{{.path}}","user":"{{.user_id}}"}`, map[string]any{
		"path":    "/users/42",
		"user_id": "alice",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `{"path":"/users/42","user":"alice"}`
	if out != want {
		t.Errorf("out = %q, want %q", out, want)
	}
}

func TestRenderUUID(t *testing.T) {
	e := New()
	out, err := e.Render(`{{uuid}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	uuidRe := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	if !uuidRe.MatchString(out) {
		t.Errorf("not a uuid: %q", out)
	}

	second, _ := e.Render(`{{uuid}}`, nil)
	if out == second {
		t.Error("uuid must differ between renders")
	}
}

func TestRenderRandomInt(t *testing.T) {
	e := New()
	for i := 0; i < 50; i++ {
		out, err := e.Render(`{{randomInt 10 20}}`, nil)
		if err != nil {
			t.Fatal(err)
		}
		var n int
		if err := json.Unmarshal([]byte(out), &n); err != nil {
			t.Fatalf("not a number: %q", out)
		}
		if n < 10 || n > 20 {
			t.Fatalf("randomInt out of range: %d", n)
		}
	}
}

func TestRenderRandomString(t *testing.T) {
	e := New()
	out, err := e.Render(`{{randomString 16}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 16 {
		t.Errorf("len = %d, want 16", len(out))
	}
}

func TestRenderFakeData(t *testing.T) {
	e := New()

	name, _ := e.Render(`{{fakeName}}`, nil)
	if !strings.Contains(name, " ") {
		t.Errorf("fakeName = %q", name)
	}

	email, _ := e.Render(`{{fakeEmail}}`, nil)
	if !strings.Contains(email, "@example.com") {
		t.Errorf("fakeEmail = %q", email)
	}

	phone, _ := e.Render(`{{fakePhone}}`, nil)
	if !regexp.MustCompile(`^\+1-\d{3}-\d{3}-\d{4}$`).MatchString(phone) {
		t.Errorf("fakePhone = %q", phone)
	}

	company, _ := e.Render(`{{fakeCompany}}`, nil)
	if company == "" {
		t.Error("fakeCompany is empty")
	}

	lorem, _ := e.Render(`{{lorem 5}}`, nil)
	if len(strings.Fields(lorem)) != 5 {
		t.Errorf("lorem = %q", lorem)
	}
}

func TestRenderTimestamp(t *testing.T) {
	e := New()
	out, err := e.Render(`{{timestamp}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`).MatchString(out) {
		t.Errorf("timestamp = %q", out)
	}
}

func TestRenderTimestampFormats(t *testing.T) {
	e := New()
	tests := []struct {
		text string
		want string
	}{
		{`{{timestamp "unix"}}`, `^\d{9,}$`},
		{`{{timestamp "rfc3339"}}`, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`},
		{`{{timestamp "2006-01-02"}}`, `^\d{4}-\d{2}-\d{2}$`},
	}
	for _, tt := range tests {
		out, err := e.Render(tt.text, nil)
		if err != nil {
			t.Errorf("%s: %v", tt.text, err)
			continue
		}
		if !regexp.MustCompile(tt.want).MatchString(out) {
			t.Errorf("%s = %q, want match for %q", tt.text, out, tt.want)
		}
	}
}

func TestRenderSprigFunctions(t *testing.T) {
	e := New()
	out, err := e.Render(`{{"hello" | upper}}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out != "HELLO" {
		t.Errorf("out = %q", out)
	}
}

func TestRenderParseError(t *testing.T) {
	e := New()
	if _, err := e.Render(`{{unclosed`, nil); err == nil {
		t.Error("expected parse error")
	}
}
