package lock

import "testing"

func TestKeyFormat(t *testing.T) {
	got := Key("roundkeeper", 426236)
	want := "lock:roundkeeper:epoch:426236"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
