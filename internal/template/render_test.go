package template

import (
	"strings"
	"testing"

	"github.com/outboundlab/sequencer/internal/domain"
)

func TestRender(t *testing.T) {
	t.Parallel()

	lead := &domain.Lead{
		ID:    "lead-1",
		Email: "jordan@acme.io",
		Attributes: map[string]string{
			"first_name": "Jordan",
			"company":    "Acme",
		},
	}

	testCases := []struct {
		name        string
		text        string
		want        string
		wantMissing []string
	}{
		{
			name: "substitutes known fields",
			text: "Hi {{first_name}}, saw {{company}} is hiring",
			want: "Hi Jordan, saw Acme is hiring",
		},
		{
			name: "email comes from the lead record",
			text: "Reply to {{email}}",
			want: "Reply to jordan@acme.io",
		},
		{
			name: "tolerates whitespace inside tokens",
			text: "Hi {{ first_name }}",
			want: "Hi Jordan",
		},
		{
			name:        "unknown token stays verbatim",
			text:        "Hi {{first_name}}, about {{role}}",
			want:        "Hi Jordan, about {{role}}",
			wantMissing: []string{"role"},
		},
		{
			name: "no tokens is a passthrough",
			text: "plain text",
			want: "plain text",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, missing := Render(tc.text, lead)
			if got != tc.want {
				t.Fatalf("Render() = %q, want %q", got, tc.want)
			}
			if len(missing) != len(tc.wantMissing) {
				t.Fatalf("missing = %v, want %v", missing, tc.wantMissing)
			}
			for i := range missing {
				if missing[i] != tc.wantMissing[i] {
					t.Fatalf("missing = %v, want %v", missing, tc.wantMissing)
				}
			}
		})
	}
}

func TestTrackerApply(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("https://track.acme.io/")
	html := `<html><body><p>Hi</p><a href="https://acme.io/pricing">pricing</a></body></html>`

	got := tracker.Apply(html, "item-1")

	if !strings.Contains(got, "https://track.acme.io/track/open/item-1/") {
		t.Errorf("open pixel missing: %s", got)
	}
	if !strings.Contains(got, "https://track.acme.io/track/click/item-1/") {
		t.Errorf("click rewrite missing: %s", got)
	}
	if !strings.Contains(got, "url=https%3A%2F%2Facme.io%2Fpricing") {
		t.Errorf("original URL not carried: %s", got)
	}
	if !strings.Contains(got, `style="display:none"></body>`) {
		t.Errorf("pixel should land before </body>: %s", got)
	}
}

func TestTrackerSkipsMailtoAndOwnLinks(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("https://track.acme.io")
	html := `<a href="mailto:sales@acme.io">mail</a><a href="https://track.acme.io/u/1">unsub</a>`

	got := tracker.RewriteLinks(html, "item-2")
	if got != html {
		t.Fatalf("mailto and tracker-hosted links must stay untouched:\n%s", got)
	}
}

func TestTrackerDisabledWithoutBaseURL(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("")
	html := `<a href="https://acme.io">x</a>`

	if got := tracker.Apply(html, "item-3"); got != html {
		t.Fatalf("empty base URL must disable tracking, got %q", got)
	}
}
