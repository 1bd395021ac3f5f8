package api

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/ColasDroin/lbae-sub000/pkg/mzindex"
)

func spanRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPost, "/d/default/api/slices/1/region/spectrum", strings.NewReader(body))
}

func TestParseRegionSpansBody(t *testing.T) {
	t.Run("tripleArray", func(t *testing.T) {
		spans, err := parseRegionSpansBody(spanRequest(`[[0, 0, 3], [1, 2, 2]]`))
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		want := []mzindex.RowSpan{{Row: 0, Col0: 0, Col1: 3}, {Row: 1, Col0: 2, Col1: 2}}
		if !reflect.DeepEqual(spans, want) {
			t.Fatalf("expected %#v, got %#v", want, spans)
		}
	})

	t.Run("objectPayload", func(t *testing.T) {
		spans, err := parseRegionSpansBody(spanRequest(`{"spans": [[0, 0, 3]]}`))
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		want := []mzindex.RowSpan{{Row: 0, Col0: 0, Col1: 3}}
		if !reflect.DeepEqual(spans, want) {
			t.Fatalf("expected %#v, got %#v", want, spans)
		}
	})

	t.Run("objectSpans", func(t *testing.T) {
		spans, err := parseRegionSpansBody(spanRequest(`{"spans": [{"row": 1, "col0": 2, "col1": 5}]}`))
		if err != nil {
			t.Fatalf("expected err=nil, got %v", err)
		}
		want := []mzindex.RowSpan{{Row: 1, Col0: 2, Col1: 5}}
		if !reflect.DeepEqual(spans, want) {
			t.Fatalf("expected %#v, got %#v", want, spans)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := parseRegionSpansBody(spanRequest("")); err == nil {
			t.Fatalf("expected error for empty body")
		}
	})

	t.Run("brokenJSON", func(t *testing.T) {
		if _, err := parseRegionSpansBody(spanRequest(`{`)); err == nil {
			t.Fatalf("expected error for broken JSON")
		}
	})

	t.Run("wrongArity", func(t *testing.T) {
		if _, err := parseRegionSpansBody(spanRequest(`[[1, 2]]`)); err == nil {
			t.Fatalf("expected error for two-element span")
		}
	})

	t.Run("tooManySpans", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("[")
		for i := 0; i <= maxRegionSpans; i++ {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString("[0, 0, 0]")
		}
		sb.WriteString("]")
		if _, err := parseRegionSpansBody(spanRequest(sb.String())); err == nil {
			t.Fatalf("expected error for oversized span list")
		}
	})
}
