package mesh

import "testing"

func TestParsePrefix(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		p, err := ParsePrefix("fd00:db8::/64")
		if err != nil {
			t.Fatalf("ParsePrefix failed: %v", err)
		}
		if p.Length != 64 {
			t.Errorf("Length = %d, want 64", p.Length)
		}
		if p.String() != "fd00:db8::/64" {
			t.Errorf("String() = %q", p.String())
		}
	})

	t.Run("MasksHostBits", func(t *testing.T) {
		// netip keeps host bits; ours must be cleared so equal prefixes
		// compare equal as map keys.
		p, err := ParsePrefix("fd00:db8::1/64")
		if err != nil {
			t.Fatalf("ParsePrefix failed: %v", err)
		}
		want := MustParsePrefix("fd00:db8::/64")
		if p != want {
			t.Errorf("host bits not masked: %s", p)
		}
		if err := p.Validate(); err != nil {
			t.Errorf("masked prefix invalid: %v", err)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, s := range []string{"", "fd00::", "10.0.0.0/8", "::ffff:10.0.0.0/104", "fd00::/129"} {
			if _, err := ParsePrefix(s); err == nil {
				t.Errorf("ParsePrefix(%q) succeeded, want error", s)
			}
		}
	})
}

func TestPrefixValidate(t *testing.T) {
	p := MustParsePrefix("fd00:db8::/48")
	if err := p.Validate(); err != nil {
		t.Errorf("valid prefix rejected: %v", err)
	}

	bad := p
	bad.Address[15] = 1 // bit past the prefix length
	if err := bad.Validate(); err == nil {
		t.Error("prefix with stray host bits accepted")
	}

	long := Prefix{Length: 129}
	if err := long.Validate(); err == nil {
		t.Error("length 129 accepted")
	}
}
