package dedupe

import "testing"

func TestCacheRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	sum := HashImage([]byte("same image bytes"))
	if _, ok := c.Lookup(sum); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	c.Store(sum, 4)
	got, ok := c.Lookup(sum)
	if !ok || got != 4 {
		t.Fatalf("Lookup=%d,%v; want 4,true", got, ok)
	}

	other := HashImage([]byte("different bytes"))
	if _, ok := c.Lookup(other); ok {
		t.Fatal("hit for different content")
	}
}

func TestNilCacheIsNoop(t *testing.T) {
	var c *Cache
	sum := HashImage([]byte("x"))
	c.Store(sum, 9)
	if _, ok := c.Lookup(sum); ok {
		t.Fatal("nil cache returned a hit")
	}
}
