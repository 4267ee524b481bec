package cuckoo

import "testing"

func TestLegacyMixersAreStableForKnownInputs(t *testing.T) {
	cases := []struct {
		name string
		fn   legacy32Func
		k    uint32
		seed uint32
		want uint32
	}{
		{"legacyMurmur3Mix", legacyMurmur3Mix, 10, 0, 3675908860},
		{"legacyXXHash32Mix", legacyXXHash32Mix, 10, 0, 2946140445},
		{"legacyMemcachedMix", legacyMemcachedMix, 10, 0, 825698977},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.fn(tc.k, tc.seed); got != tc.want {
				t.Errorf("%s(%d, %d) = %d, want %d", tc.name, tc.k, tc.seed, got, tc.want)
			}
		})
	}
}

func TestLegacy32FuncsRotatePerCandidate(t *testing.T) {
	if legacy32Funcs[0%len(legacy32Funcs)](5, 1) == legacy32Funcs[1%len(legacy32Funcs)](5, 1) {
		t.Fatal("expected distinct candidates to use distinct mixers for the same folded key and seed")
	}
}

func TestFoldKeyIsDeterministic(t *testing.T) {
	a := foldKey([]byte("foo"))
	b := foldKey([]byte("foo"))
	if a != b {
		t.Fatalf("foldKey(%q) not deterministic: %d != %d", "foo", a, b)
	}
	if foldKey([]byte("foo")) == foldKey([]byte("bar")) {
		t.Fatal("expected distinct keys to fold to distinct values (for these inputs)")
	}
}

func TestCandidateHashLegacyAndDefaultStayInRange(t *testing.T) {
	key := []byte("some-key")
	legacy := candidateHash(HashLegacy32, key, 7, 0, 1024)
	xx := candidateHash(HashXXHash, key, 7, 0, 1024)
	if legacy == xx {
		t.Log("legacy and default hash schemes collided on this input; not itself an error, just unexpected for this fixture")
	}
	if legacy < 0 || legacy >= 1024 || xx < 0 || xx >= 1024 {
		t.Fatalf("candidateHash out of range: legacy=%d xx=%d", legacy, xx)
	}
}
