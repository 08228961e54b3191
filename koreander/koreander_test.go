package koreander

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/pipe01/koreander/internal/expreval"
)

type page struct {
	Title string
	Admin bool
	Items []string
}

const pageTemplate = `!!! 5
%html
  %head
    %title= Title
  %body
    - if Admin
      %p Admin
    - else
      %p Guest
    %ul
      - Items -> i, item
        %li #{i}: #{item}`

func TestRenderPage(t *testing.T) {
	e := New(Options{})

	tpl, err := e.Compile(pageTemplate, TypeOf(page{}))
	if err != nil {
		t.Fatal(err)
	}

	got, err := e.Render(tpl, page{Title: "Hi & bye", Items: []string{"a", "b"}})
	if err != nil {
		t.Fatal(err)
	}

	want := strings.Join([]string{
		"<!DOCTYPE html>",
		"<html>",
		"<head>",
		"<title>Hi &amp; bye</title>",
		"</head>",
		"<body>",
		"<p>Guest</p>",
		"<ul>",
		"<li>0: a</li>",
		"<li>1: b</li>",
		"</ul>",
		"</body>",
		"</html>",
	}, "\n")

	if got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestRenderString(t *testing.T) {
	cases := []struct {
		name string
		src  string
		ctx  any
		want string
	}{
		{"scenario", "%html\n  %body\n    %p Hi", nil, "<html>\n<body>\n<p>Hi</p>\n</body>\n</html>"},
		{"empty tag", "%p", nil, "<p></p>"},
		{"id and class", "%div#id.class", nil, `<div id="id" class="class"></div>`},
		{"attribute expression", `%a href={url} Link`, map[string]any{"url": "/x?a=1&b=2"}, `<a href="/x?a=1&amp;b=2">Link</a>`},
		{"unescaped", `!= "<i>"`, nil, "<i>"},
		{"escaped", `= "<i>"`, nil, "&lt;i&gt;"},
		{"unescaped after tag", `%p!= "<b>"`, nil, "<p><b></p>"},
		{"else if chain", "- if n == 1\n  one\n- else if n == 2\n  two\n- else\n  many", map[string]any{"n": 2}, "two"},
		{"unless", "- unless n > 5\n  small", map[string]any{"n": 2}, "small"},
		{"capture", "= true\n  %b x", nil, "<b>x</b>"},
		{"map iteration", "- m -> k, v\n  = k + v", map[string]any{"m": map[string]string{"b": "2", "a": "1"}}, "a1\nb2"},
		{"range", "- 3 -> i\n  = i * i", nil, "0\n1\n4"},
		{"filter", ":javascript\n  alert(1)", nil, "<script type=\"text/javascript\">\nalert(1)\n</script>"},
		{"unknown filter", ":sass a", nil, "Filter 'sass' not found."},
		{"uneven dedent", "%p\n  %a\n %b", nil, "<p>\n<a></a>\n<b></b>\n</p>"},
	}

	e := New(Options{})

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := e.RenderString(c.src, c.ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got != c.want {
				t.Fatalf("expected %q, got %q", c.want, got)
			}
		})
	}
}

func TestIndent(t *testing.T) {
	e := New(Options{Indent: true})

	got, err := e.RenderString("%div\n  %p Hi\n  :css\n    a {}\n    b {}", nil)
	if err != nil {
		t.Fatal(err)
	}

	want := "<div>\n  <p>Hi</p>\n  <style>\n  a {}\n  b {}\n  </style>\n</div>"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCustomFilter(t *testing.T) {
	e := New(Options{
		Filters: DefaultFilters().With("upper", FilterFunc(strings.ToUpper)),
	})

	got, err := e.RenderString("%p :upper hi", nil)
	if err != nil {
		t.Fatal(err)
	}

	if got != "<p>HI</p>" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestTemplateFilters(t *testing.T) {
	e := New(Options{})

	tpl, err := e.Compile(":javscript x\n%p :plain y", "")
	if err != nil {
		t.Fatal(err)
	}

	uses := tpl.Filters()
	if len(uses) != 2 || uses[0].Name != "javscript" || uses[1].Name != "plain" {
		t.Fatalf("unexpected filters %v", uses)
	}
	if uses[1].Location.Line != 1 {
		t.Fatalf("expected second filter on line 1, got %d", uses[1].Location.Line)
	}

	suggestions := e.SuggestFilter("javscript")
	if len(suggestions) == 0 || suggestions[0] != "javascript" {
		t.Fatalf("unexpected suggestions %v", suggestions)
	}
}

func TestErrors(t *testing.T) {
	e := New(Options{})

	_, err := e.CompileFile("bad.kor", []byte("%p\n!!! 5\n- items -> x"), "")

	var perr *ParserError
	if !errors.As(err, &perr) {
		t.Fatalf("expected parser error, got %v", err)
	}
	if perr.At().File != "bad.kor" || perr.At().Line != 2 {
		t.Fatalf("unexpected location %s", &perr.Location)
	}

	_, err = e.Compile("%p= 1 +", "")

	var cerr *expreval.CompileError
	if !errors.As(err, &cerr) || !errors.As(err, &perr) {
		t.Fatalf("expected located compile error, got %v", err)
	}

	tpl, err := e.Compile("%p", TypeOf(page{}))
	if err != nil {
		t.Fatal(err)
	}

	var terr *InvalidTypeError
	if _, err := e.Render(tpl, "str"); !errors.As(err, &terr) {
		t.Fatalf("expected invalid type error, got %v", err)
	}
}

func TestConcurrentRender(t *testing.T) {
	e := New(Options{})

	tpl, err := e.Compile("%p= Title", TypeOf(page{}))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			title := fmt.Sprint(i)

			got, err := e.Render(tpl, page{Title: title})
			if err != nil {
				errs <- err
				return
			}
			if got != "<p>"+title+"</p>" {
				errs <- fmt.Errorf("render %d: got %q", i, got)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
