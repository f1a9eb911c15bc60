package audio

import (
	"errors"
	"math/rand"
	"testing"
)

func TestMulaw_KnownValues(t *testing.T) {
	tests := []struct {
		sample int16
		code   byte
	}{
		{0, 0xFF},
		{-1, 0x7F},
		{32767, 0x80},
		{-32768, 0x00},
		{100, 0xF2},
	}

	for _, tt := range tests {
		if got := linearToMulaw(tt.sample); got != tt.code {
			t.Errorf("linearToMulaw(%d): expected 0x%02X, got 0x%02X", tt.sample, tt.code, got)
		}
	}

	if got := mulawToLinear(0xFF); got != 0 {
		t.Errorf("Expected 0xFF to decode to 0, got %d", got)
	}
	if got := mulawToLinear(0x80); got != 32124 {
		t.Errorf("Expected 0x80 to decode to 32124, got %d", got)
	}
	if got := mulawToLinear(0x00); got != -32124 {
		t.Errorf("Expected 0x00 to decode to -32124, got %d", got)
	}
}

func TestMulaw_EncodeDecodeIsIdentityOnCodes(t *testing.T) {
	for i := 0; i < 256; i++ {
		code := byte(i)
		got := linearToMulaw(mulawToLinear(code))
		want := code
		if code == 0x7F {
			// negative zero decodes to 0, which encodes as positive zero
			want = 0xFF
		}
		if got != want {
			t.Errorf("Code 0x%02X: expected round trip to 0x%02X, got 0x%02X", code, want, got)
		}
	}
}

func TestMulaw_DecodeEncodeWithinQuantizationError(t *testing.T) {
	for s := -32768; s <= 32767; s++ {
		x := int32(s)
		clipped := x
		if clipped > mulawClip {
			clipped = mulawClip
		}
		if clipped < -mulawClip {
			clipped = -mulawClip
		}

		got := int32(mulawToLinear(linearToMulaw(int16(s))))
		diff := got - clipped
		if diff < 0 {
			diff = -diff
		}
		magnitude := clipped
		if magnitude < 0 {
			magnitude = -magnitude
		}
		// Half a segment step: (|x|+bias)/32
		bound := (magnitude+mulawBias)/32 + 1
		if diff > bound {
			t.Fatalf("Sample %d: decoded %d, error %d exceeds bound %d", s, got, diff, bound)
		}
	}
}

func TestDecodeEncode_FrameRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for n := 0; n < 50; n++ {
		mulaw := make([]byte, MulawFrameBytes)
		rng.Read(mulaw)

		pcm, err := Decode(mulaw)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(pcm) != LinearFrameBytes {
			t.Fatalf("Expected %d PCM bytes, got %d", LinearFrameBytes, len(pcm))
		}

		back, err := Encode(pcm)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		for i := range mulaw {
			want := mulaw[i]
			if want == 0x7F {
				want = 0xFF
			}
			if back[i] != want {
				t.Errorf("Byte %d: expected 0x%02X, got 0x%02X", i, want, back[i])
			}
		}
	}
}

func TestDecode_RejectsWrongQuantum(t *testing.T) {
	for _, size := range []int{0, 1, 159, 161, 320} {
		_, err := Decode(make([]byte, size))
		var codecErr *CodecError
		if !errors.As(err, &codecErr) {
			t.Fatalf("Size %d: expected CodecError, got %v", size, err)
		}
		if codecErr.Expected != MulawFrameBytes || codecErr.Length != size {
			t.Errorf("Size %d: unexpected error detail %+v", size, codecErr)
		}
	}
}

func TestEncode_RejectsWrongQuantum(t *testing.T) {
	for _, size := range []int{0, 160, 319, 321} {
		_, err := Encode(make([]byte, size))
		var codecErr *CodecError
		if !errors.As(err, &codecErr) {
			t.Errorf("Size %d: expected CodecError, got %v", size, err)
		}
	}
}

func TestDecodeFrame_KeepsIdentity(t *testing.T) {
	in := AudioFrame{SessionID: "s1", Seq: 42, Encoding: EncodingMulaw, Data: make([]byte, MulawFrameBytes)}
	out, err := DecodeFrame(in)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if out.SessionID != "s1" || out.Seq != 42 || out.Encoding != EncodingLinear16 {
		t.Errorf("Unexpected frame header %+v", out)
	}
	if out.Duration() != FrameDuration {
		t.Errorf("Expected duration %v, got %v", FrameDuration, out.Duration())
	}

	if _, err := DecodeFrame(out); err == nil {
		t.Error("Expected error decoding a linear frame")
	}
	if _, err := EncodeFrame(in); err == nil {
		t.Error("Expected error encoding a mulaw frame")
	}
}

func TestPCMToMulaw_OddLength(t *testing.T) {
	if _, err := PCMToMulaw([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd-length PCM")
	}
}
