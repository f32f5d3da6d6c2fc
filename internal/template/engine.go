// Package template renders mock response bodies. The function map
// combines sprig with generators for ids, timestamps, and fake personal
// data so mock payloads can look alive without external fixtures.
package template

import (
	"bytes"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"github.com/noxd/nox/internal/errors"
)

var (
	firstNames = []string{
		"Alice", "Bob", "Carol", "David", "Emma", "Frank", "Grace",
		"Henry", "Iris", "Jack", "Karen", "Liam", "Maria", "Noah",
	}
	lastNames = []string{
		"Anderson", "Brown", "Clark", "Davis", "Evans", "Fisher",
		"Garcia", "Harris", "Johnson", "King", "Lewis", "Miller",
	}
	companySuffixes = []string{"Labs", "Systems", "Works", "Industries", "Group", "Tech"}
	loremWords      = []string{
		"lorem", "ipsum", "dolor", "sit", "amet", "consectetur",
		"adipiscing", "elit", "sed", "do", "eiusmod", "tempor",
		"incididunt", "ut", "labore", "et", "dolore", "magna", "aliqua",
	}
	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Engine renders templates with the full function map. Parsed templates
// are cached by body text.
type Engine struct {
	mu    sync.Mutex
	rng   *rand.Rand
	cache map[string]*template.Template
}

// New creates a template engine.
func New() *Engine {
	return &Engine{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]*template.Template),
	}
}

// Render executes the template text against data.
func (e *Engine) Render(text string, data any) (string, error) {
	tmpl, err := e.parse(text)
	if err != nil {
		return "", errors.Wrap(err, errors.KindTemplate, "failed to parse template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, errors.KindTemplate, "failed to render template")
	}
	return buf.String(), nil
}

func (e *Engine) parse(text string) (*template.Template, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tmpl, ok := e.cache[text]; ok {
		return tmpl, nil
	}

	tmpl, err := template.New("mock").Funcs(sprig.FuncMap()).Funcs(e.funcs()).Parse(text)
	if err != nil {
		return nil, err
	}
	e.cache[text] = tmpl
	return tmpl, nil
}

func (e *Engine) funcs() template.FuncMap {
	return template.FuncMap{
		"uuid":         func() string { return uuid.NewString() },
		"timestamp":    timestamp,
		"randomInt":    e.randomInt,
		"randomString": e.randomString,
		"fakeName":     e.fakeName,
		"fakeEmail":    e.fakeEmail,
		"fakePhone":    e.fakePhone,
		"fakeCompany":  e.fakeCompany,
		"lorem":        e.lorem,
	}
}

// timestamp formats the current time. With no argument it is RFC 3339;
// "unix" gives epoch seconds; anything else is treated as a Go layout.
func timestamp(format ...string) string {
	now := time.Now().UTC()
	if len(format) == 0 {
		return now.Format(time.RFC3339)
	}
	switch format[0] {
	case "unix":
		return strconv.FormatInt(now.Unix(), 10)
	case "", "rfc3339":
		return now.Format(time.RFC3339)
	default:
		return now.Format(format[0])
	}
}

func (e *Engine) intn(n int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Intn(n)
}

func (e *Engine) randomInt(min, max int) int {
	if max <= min {
		return min
	}
	return min + e.intn(max-min+1)
}

func (e *Engine) randomString(length int) string {
	if length <= 0 {
		return ""
	}
	b := make([]byte, length)
	for i := range b {
		b[i] = letters[e.intn(len(letters))]
	}
	return string(b)
}

func (e *Engine) fakeName() string {
	return firstNames[e.intn(len(firstNames))] + " " + lastNames[e.intn(len(lastNames))]
}

func (e *Engine) fakeEmail() string {
	first := strings.ToLower(firstNames[e.intn(len(firstNames))])
	last := strings.ToLower(lastNames[e.intn(len(lastNames))])
	return fmt.Sprintf("%s.%s@example.com", first, last)
}

func (e *Engine) fakePhone() string {
	return fmt.Sprintf("+1-%03d-%03d-%04d", 200+e.intn(800), e.intn(1000), e.intn(10000))
}

func (e *Engine) fakeCompany() string {
	return lastNames[e.intn(len(lastNames))] + " " + companySuffixes[e.intn(len(companySuffixes))]
}

func (e *Engine) lorem(words int) string {
	if words <= 0 {
		return ""
	}
	out := make([]string, words)
	for i := range out {
		out[i] = loremWords[e.intn(len(loremWords))]
	}
	return strings.Join(out, " ")
}
