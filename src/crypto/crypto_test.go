package crypto

import (
	"bytes"
	"testing"
)

func TestBase58(t *testing.T) {
	data := []byte{0, 0, 1, 2, 3, 250}

	enc := Base58Encode(data)
	dec, err := Base58Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, dec) {
		t.Fatalf("decoded bytes should be %v, not %v", data, dec)
	}

	if _, err := Base58Decode("0OIl"); err == nil {
		t.Fatalf("decoding characters outside the alphabet should fail")
	}
	if _, err := Base58Decode(""); err == nil {
		t.Fatalf("decoding an empty string should fail")
	}
}

func TestSHA256Hex(t *testing.T) {
	// sha256("abc")
	expected := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if h := SHA256Hex([]byte("a"), []byte("bc")); h != expected {
		t.Fatalf("hash should be %s, not %s", expected, h)
	}
}
