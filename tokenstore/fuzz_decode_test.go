package tokenstore

import "testing"

func FuzzDecode(f *testing.F) {
	valid, err := Encode(testSnapshot())
	if err != nil {
		f.Fatalf("encode seed: %v", err)
	}
	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte{CurrentSchemaVersion})
	f.Add([]byte{snapshotFormatVersionV1, 1, 1, 0xff, 0xff})

	f.Fuzz(func(t *testing.T, data []byte) {
		snap, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(snap)
		if err != nil {
			t.Fatalf("re-encode of decoded snapshot failed: %v", err)
		}
		if _, err := Decode(again); err != nil {
			t.Fatalf("decode of re-encoded snapshot failed: %v", err)
		}
	})
}
