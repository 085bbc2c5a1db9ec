package avatarid

import (
	"errors"
	"testing"
)

func TestMatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content []byte
		want    ID
		ok      bool
	}{
		{
			name:    "embedded in noise",
			content: []byte("...avtr_1A2B3C4D-0000-1111-2222-333344445555..."),
			want:    "avtr_1A2B3C4D-0000-1111-2222-333344445555",
			ok:      true,
		},
		{
			name:    "lowercase hex",
			content: []byte("blob avtr_abcdef01-2345-6789-abcd-ef0123456789 tail"),
			want:    "avtr_abcdef01-2345-6789-abcd-ef0123456789",
			ok:      true,
		},
		{
			name:    "mixed case hex",
			content: []byte("xavtr_aBcDeF01-2345-6789-AbCd-eF0123456789x"),
			want:    "avtr_aBcDeF01-2345-6789-AbCd-eF0123456789",
			ok:      true,
		},
		{
			name:    "first of two",
			content: []byte("avtr_11111111-1111-1111-1111-111111111111 avtr_22222222-2222-2222-2222-222222222222"),
			want:    "avtr_11111111-1111-1111-1111-111111111111",
			ok:      true,
		},
		{
			name:    "invalid utf8 around id",
			content: append(append([]byte{0xff, 0xfe, 0x00, 0xc3}, []byte("avtr_1A2B3C4D-0000-1111-2222-333344445555")...), 0x80, 0x81),
			want:    "avtr_1A2B3C4D-0000-1111-2222-333344445555",
			ok:      true,
		},
		{name: "no id", content: []byte("nothing to see here"), ok: false},
		{name: "non hex digit", content: []byte("avtr_1A2B3C4G-0000-1111-2222-333344445555"), ok: false},
		{name: "short group", content: []byte("avtr_1A2B3C4-0000-1111-2222-333344445555"), ok: false},
		{name: "wrong prefix", content: []byte("usr_1A2B3C4D-0000-1111-2222-333344445555"), ok: false},
		{name: "binary only", content: []byte{0x00, 0xff, 0x10, 0x80}, ok: false},
		{name: "empty", content: nil, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Match(tt.content)
			if ok != tt.ok {
				t.Fatalf("Match ok = %v, want %v", ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("Match = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	id, err := Parse(" avtr_1A2B3C4D-0000-1111-2222-333344445555\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.String() != "avtr_1A2B3C4D-0000-1111-2222-333344445555" {
		t.Fatalf("Parse = %q", id)
	}
	u, err := id.UUID()
	if err != nil {
		t.Fatalf("UUID: %v", err)
	}
	if u.String() != "1a2b3c4d-0000-1111-2222-333344445555" {
		t.Fatalf("UUID = %s", u)
	}

	for _, bad := range []string{
		"",
		"avtr_1A2B3C4D-0000-1111-2222-333344445555x",
		"xavtr_1A2B3C4D-0000-1111-2222-333344445555",
		"avtr_1A2B3C4D00001111222233334444555",
	} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalid", bad, err)
		}
	}
}
