package redact

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderMasksCredentials(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Basic cGFuZGE6c2VjcmV0")
	h.Set("X-APP-TOKEN", "1z4Cg7Qic9C3")
	h.Set("X-Trace", "abc")

	got := Header(h)

	if got["Authorization"] != "Basic "+Marker {
		t.Fatalf("unexpected authorization: %q", got["Authorization"])
	}
	if got["X-App-Token"] != Marker {
		t.Fatalf("unexpected app token: %q", got["X-App-Token"])
	}
	if got["X-Trace"] != "abc" {
		t.Fatalf("non-sensitive header altered: %q", got["X-Trace"])
	}
	if h.Get("X-APP-TOKEN") != "1z4Cg7Qic9C3" {
		t.Fatalf("source header mutated")
	}
}

func TestHeaderNamesSorted(t *testing.T) {
	h := http.Header{}
	h.Set("X-App-Token", "t")
	h.Set("Authorization", "a")

	names := HeaderNames(h)
	if len(names) != 2 || names[0] != "Authorization" || names[1] != "X-App-Token" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestText(t *testing.T) {
	in := "dial wss://host/ws?token=abc123&x=1 Authorization: Bearer secretvalue password=hunter2"
	out := Text(in)

	for _, secret := range []string{"abc123", "secretvalue", "hunter2"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked in %q", secret, out)
		}
	}
	if !strings.Contains(out, "x=1") {
		t.Fatalf("unrelated query removed: %q", out)
	}
}

func TestURL(t *testing.T) {
	out := URL("wss://panda:pw@blue.example.com/db/status?access_token=zzz")
	if strings.Contains(out, "pw@") || strings.Contains(out, "zzz") {
		t.Fatalf("credentials leaked: %q", out)
	}
	if !strings.Contains(out, "blue.example.com/db/status") {
		t.Fatalf("host or path lost: %q", out)
	}

	if got := URL("wss://blue.example.com/db/status"); got != "wss://blue.example.com/db/status" {
		t.Fatalf("plain URL altered: %q", got)
	}
}
